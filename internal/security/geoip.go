package security

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"craftlobby-core/internal/core/log"
)

// GeoConfig 地域检查配置
type GeoConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedCountries []string `yaml:"allowed_countries"`
	APIURL           string   `yaml:"api_url"`
	TimeoutSeconds   int      `yaml:"timeout_s"`
}

const (
	defaultGeoAPIURL  = "http://ip-api.com/json/"
	geoCacheSize      = 1000
	defaultGeoTimeout = 3 * time.Second
)

// GeoChecker 基于外部 GeoIP 接口的地域检查器
// 查询结果按IP缓存；查询失败一律放行，绝不因外部接口故障阻断请求
type GeoChecker struct {
	config GeoConfig
	client *http.Client
	cache  *lru.Cache[string, string]
}

// NewGeoChecker 创建地域检查器
func NewGeoChecker(config GeoConfig) (*GeoChecker, error) {
	if config.APIURL == "" {
		config.APIURL = defaultGeoAPIURL
	}
	timeout := defaultGeoTimeout
	if config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}
	cache, err := lru.New[string, string](geoCacheSize)
	if err != nil {
		return nil, err
	}
	return &GeoChecker{
		config: config,
		client: &http.Client{Timeout: timeout},
		cache:  cache,
	}, nil
}

// Allowed 检查IP所属国家是否在允许列表内
// 内网地址和查询失败均放行
func (g *GeoChecker) Allowed(ctx context.Context, ip string) bool {
	if !g.config.Enabled || len(g.config.AllowedCountries) == 0 {
		return true
	}
	if isPrivateIP(ip) {
		return true
	}

	country, err := g.lookup(ctx, ip)
	if err != nil {
		log.Debugf("GeoChecker: lookup for %s failed: %v, allowing", ip, err)
		return true
	}
	for _, allowed := range g.config.AllowedCountries {
		if country == allowed {
			return true
		}
	}
	return false
}

// geoResponse 外部 GeoIP 接口的响应（ip-api.com 风格）
type geoResponse struct {
	Status      string `json:"status"`
	CountryCode string `json:"countryCode"`
}

func (g *GeoChecker) lookup(ctx context.Context, ip string) (string, error) {
	if country, ok := g.cache.Get(ip); ok {
		return country, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.APIURL+ip+"?fields=status,countryCode", nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.Status != "success" {
		return "", fmt.Errorf("geoip query failed for %s", ip)
	}

	g.cache.Add(ip, result.CountryCode)
	return result.CountryCode, nil
}

// isPrivateIP 判断是否内网/回环地址
func isPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}
