package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"craftlobby-core/internal/app/server"
	"craftlobby-core/internal/core/log"
	"craftlobby-core/internal/version"
)

var configPath string

// rootCmd 代表根命令
var rootCmd = &cobra.Command{
	Use:   "craftlobby-server",
	Short: "CraftLobby Core - multiplayer room lobby and tunnel health service",
	Long: `CraftLobby Core is the lobby backend for self-hosted multiplayer rooms.
It keeps the public room list, validates game servers over server-list-ping,
and guards the API with blacklist, whitelist, rate limiting and auto bans.`,
	Version: version.GetVersion(),
	RunE:    runServer,
}

// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run:   runVersion,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	absConfigPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	config, err := server.LoadConfig(absConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := log.Init(&config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	srv, err := server.New(context.Background(), config)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// 横幅在日志初始化之后、服务启动之前显示
	srv.DisplayStartupBanner(absConfigPath)

	if err := srv.Run(); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}

	log.Infof("CraftLobby Core server exited gracefully")
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Println()
	fmt.Printf("CraftLobby Core Server %s\n", version.GetVersion())
	fmt.Println()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
