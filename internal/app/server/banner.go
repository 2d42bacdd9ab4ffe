package server

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"craftlobby-core/internal/version"

	"github.com/fatih/color"
)

const (
	bannerWidth = 60
)

var (
	bannerCyan    = color.New(color.FgCyan).SprintFunc()
	bannerBlue    = color.New(color.FgBlue).SprintFunc()
	bannerMagenta = color.New(color.FgMagenta).SprintFunc()
	bannerBold    = color.New(color.Bold).SprintFunc()
	bannerGreen   = color.New(color.FgGreen).SprintFunc()
	bannerFaint   = color.New(color.Faint).SprintFunc()
)

// DisplayStartupBanner 显示启动信息横幅
func (s *Server) DisplayStartupBanner(configPath string) {
	reset := color.New(color.Reset).SprintFunc()

	displayLogo(reset)
	displayServerInfo(s, configPath)
	displaySecurityInfo(s)
	displayFooter(reset)
}

// displayLogo 显示 Logo
func displayLogo(reset func(...interface{}) string) {
	fmt.Println()
	fmt.Printf("  %s  ____ ____      _    _____ _____ %s\n", bannerCyan(""), reset(""))
	fmt.Printf("  %s / ___|  _ \\    / \\  |  ___|_   _|%s   %s%sCraftLobby Core Server%s\n",
		bannerCyan(""), reset(""), bannerFaint(""), bannerBold(""), reset(""))
	fmt.Printf("  %s| |   | |_) |  / _ \\ | |_    | |  %s\n", bannerBlue(""), reset(""))
	fmt.Printf("  %s| |___|  _ <  / ___ \\|  _|   | |  %s   %sVersion %s%s\n",
		bannerBlue(""), reset(""), bannerFaint(""), version.GetShortVersion(), reset(""))
	fmt.Printf("  %s \\____|_| \\_\\/_/   \\_\\_|     |_|  %s\n", bannerMagenta(""), reset(""))
	fmt.Println()
}

// displayServerInfo 显示服务器信息
func displayServerInfo(s *Server, configPath string) {
	fmt.Println(bannerBold("  Server Information"))
	fmt.Println(bannerFaint("  " + strings.Repeat("─", bannerWidth)))

	infoRows := []struct {
		label string
		value string
	}{
		{"Config File", configPath},
		{"Start Time", time.Now().Format("2006-01-02 15:04:05")},
		{"Listen", fmt.Sprintf("http://%s", s.config.Server.ListenAddr)},
		{"Database", getStoragePath(s.config.Storage.Path)},
		{"Wordlist", s.config.Moderation.WordlistFile},
		{"Log Output", s.config.Log.Output},
	}

	for _, row := range infoRows {
		fmt.Printf("  %-18s %s\n", bannerBold(row.label+":"), row.value)
	}
	fmt.Println()
}

// displaySecurityInfo 显示准入控制信息
func displaySecurityInfo(s *Server) {
	fmt.Println(bannerBold("  Admission Control"))
	fmt.Println(bannerFaint("  " + strings.Repeat("─", bannerWidth)))

	fmt.Printf("  %-18s %s\n", bannerBold("Rate Limit:"),
		fmt.Sprintf("%d requests / %ds", s.config.Security.RateLimitCount, s.config.Security.RateLimitWindowS))
	fmt.Printf("  %-18s %s\n", bannerBold("Auto Ban:"),
		fmt.Sprintf("%d minutes", s.config.Security.AutoBanMinutes))

	adminStatus := bannerFaint("✗ Disabled (no admin key)")
	if s.config.Server.AdminKey != "" {
		adminStatus = bannerGreen("✓ Enabled")
	}
	fmt.Printf("  %-18s %s\n", bannerBold("Admin API:"), adminStatus)

	geoStatus := bannerFaint("✗ Disabled")
	if s.config.Security.GeoCheck.Enabled {
		geoStatus = bannerGreen(fmt.Sprintf("✓ Enabled (%s)", strings.Join(s.config.Security.GeoCheck.AllowedCountries, ", ")))
	}
	fmt.Printf("  %-18s %s\n", bannerBold("Geo Check:"), geoStatus)
	fmt.Println()
}

// displayFooter 显示页脚
func displayFooter(reset func(...interface{}) string) {
	fmt.Println(bannerFaint("  " + strings.Repeat("━", bannerWidth)))
	fmt.Println()
	fmt.Printf("  %sServer is starting...%s\n", bannerFaint(""), reset(""))
}

// getStoragePath 获取数据库文件绝对路径
func getStoragePath(configuredPath string) string {
	expandedPath, err := filepath.Abs(configuredPath)
	if err != nil {
		return configuredPath
	}
	return expandedPath
}
