package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"craftlobby-core/internal/api"
	"craftlobby-core/internal/core/log"
	"craftlobby-core/internal/maintenance"
	"craftlobby-core/internal/probe"
	"craftlobby-core/internal/security"
)

// SecurityConfig 准入控制配置
type SecurityConfig struct {
	RateLimitWindowS int                `yaml:"rate_limit_window_s"`
	RateLimitCount   int                `yaml:"rate_limit_count"`
	AutoBanMinutes   int                `yaml:"auto_ban_minutes"`
	RuleCacheTTLS    int                `yaml:"rule_cache_ttl_s"`
	AccessLogDedupS  int                `yaml:"access_log_dedup_s"`
	GeoCheck         security.GeoConfig `yaml:"geo_check"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Path string `yaml:"path"`
}

// ProbeConfig 探测配置，秒为单位
type ProbeConfig struct {
	TimeoutsS []float64 `yaml:"timeouts_s"`
	BackoffsS []float64 `yaml:"backoffs_s"`
}

// MaintenanceConfig 后台维护循环配置
type MaintenanceConfig struct {
	ReaperIntervalS   int `yaml:"reaper_interval_s"`
	RoomTTLS          int `yaml:"room_ttl_s"`
	PresenceTTLS      int `yaml:"presence_ttl_s"`
	TunnelTTLS        int `yaml:"tunnel_ttl_s"`
	ProberIntervalS   int `yaml:"prober_interval_s"`
	ProberRoomDelayMS int `yaml:"prober_room_delay_ms"`
	ProberRoomCap     int `yaml:"prober_room_cap"`
}

// ModerationConfig 敏感词审查配置
type ModerationConfig struct {
	WordlistFile string `yaml:"wordlist_file"`
}

// Config 进程级配置
type Config struct {
	Server      api.Config        `yaml:"server"`
	Log         log.Config        `yaml:"log"`
	Storage     StorageConfig     `yaml:"storage"`
	Security    SecurityConfig    `yaml:"security"`
	Probe       ProbeConfig       `yaml:"probe"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Moderation  ModerationConfig  `yaml:"moderation"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: api.Config{
			ListenAddr: ":8080",
		},
		Log: log.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Path: "data/lobby.db",
		},
		Security: SecurityConfig{
			RateLimitWindowS: 60,
			RateLimitCount:   60,
			AutoBanMinutes:   10,
			RuleCacheTTLS:    60,
			AccessLogDedupS:  300,
		},
		Probe: ProbeConfig{
			TimeoutsS: []float64{2, 3, 5},
			BackoffsS: []float64{0.5, 1.0},
		},
		Maintenance: MaintenanceConfig{
			ReaperIntervalS:   60,
			RoomTTLS:          10,
			PresenceTTLS:      15,
			TunnelTTLS:        40,
			ProberIntervalS:   30,
			ProberRoomDelayMS: 500,
			ProberRoomCap:     500,
		},
		Moderation: ModerationConfig{
			WordlistFile: "wordlist.txt",
		},
	}
}

// LoadConfig 加载配置文件，缺失项回落默认值
// 管理密钥支持 CRAFTLOBBY_ADMIN_KEY 环境变量覆盖
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if key := os.Getenv("CRAFTLOBBY_ADMIN_KEY"); key != "" {
		config.Server.AdminKey = key
	}

	return config, nil
}

// GuardConfig 转换为准入门闸配置
func (c *Config) GuardConfig() security.GuardConfig {
	return security.GuardConfig{
		RateLimitWindow: time.Duration(c.Security.RateLimitWindowS) * time.Second,
		RateLimitCount:  c.Security.RateLimitCount,
		AutoBanDuration: time.Duration(c.Security.AutoBanMinutes) * time.Minute,
		RuleCacheTTL:    time.Duration(c.Security.RuleCacheTTLS) * time.Second,
		Geo:             c.Security.GeoCheck,
	}
}

// ProberConfig 转换为探测器配置
func (c *Config) ProberConfig() probe.Config {
	cfg := probe.Config{}
	for _, t := range c.Probe.TimeoutsS {
		cfg.Timeouts = append(cfg.Timeouts, time.Duration(t*float64(time.Second)))
	}
	for _, b := range c.Probe.BackoffsS {
		cfg.Backoffs = append(cfg.Backoffs, time.Duration(b*float64(time.Second)))
	}
	return cfg
}

// ReaperConfig 转换为清理循环配置
func (c *Config) ReaperConfig() maintenance.ReaperConfig {
	return maintenance.ReaperConfig{
		Interval:    time.Duration(c.Maintenance.ReaperIntervalS) * time.Second,
		RoomTTL:     time.Duration(c.Maintenance.RoomTTLS) * time.Second,
		PresenceTTL: time.Duration(c.Maintenance.PresenceTTLS) * time.Second,
		TunnelTTL:   time.Duration(c.Maintenance.TunnelTTLS) * time.Second,
	}
}

// StatusProberConfig 转换为探测循环配置
func (c *Config) StatusProberConfig() maintenance.StatusProberConfig {
	return maintenance.StatusProberConfig{
		Interval:  time.Duration(c.Maintenance.ProberIntervalS) * time.Second,
		RoomDelay: time.Duration(c.Maintenance.ProberRoomDelayMS) * time.Millisecond,
		RoomCap:   c.Maintenance.ProberRoomCap,
	}
}
