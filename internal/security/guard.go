package security

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"craftlobby-core/internal/core/dispose"
	"craftlobby-core/internal/core/log"
	"craftlobby-core/internal/models"
)

// GuardStore 准入中间件依赖的存储能力
type GuardStore interface {
	LogAccess(clientIP, action string) error
	IsIPBanned(ip string) (bool, error)
	BanIP(ip string, duration time.Duration, reason string) error
	ListBlacklistRules() ([]models.BlacklistRule, error)
	ListWhitelistRules() ([]models.WhitelistRule, error)
}

// GuardConfig 准入控制配置
type GuardConfig struct {
	RateLimitWindow time.Duration
	RateLimitCount  int
	AutoBanDuration time.Duration
	RuleCacheTTL    time.Duration
	Geo             GeoConfig
}

// DefaultGuardConfig 默认准入配置：60秒60次，超限封10分钟，规则缓存60秒
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RateLimitWindow: 60 * time.Second,
		RateLimitCount:  60,
		AutoBanDuration: 10 * time.Minute,
		RuleCacheTTL:    60 * time.Second,
	}
}

// compiledRule 预解析的规则缓存条目
type compiledRule struct {
	rule      string
	reason    string
	prefixes  []netip.Prefix
	expiresAt int64 // 0 表示永久，仅白名单使用
}

// AdmissionGuard 每请求准入门闸
//
// 处理顺序：解析真实IP → 记录访问 → 刷新规则缓存 → 白名单放行 →
// 管理黑名单拒绝 → 自动封禁拒绝 → 滑动窗口限流（超限写入自动封禁）。
// 规则缓存整体替换，限流历史追加裁剪，两把锁内都不做 I/O。
type AdmissionGuard struct {
	*dispose.ServiceBase

	store   GuardStore
	config  GuardConfig
	limiter *SlidingWindowLimiter
	geo     *GeoChecker

	cacheMu     sync.Mutex
	lastRefresh time.Time
	blacklist   []compiledRule
	whitelist   []compiledRule

	now func() time.Time
}

// NewAdmissionGuard 创建准入门闸并启动限流历史清理任务
func NewAdmissionGuard(store GuardStore, config GuardConfig, ctx context.Context) (*AdmissionGuard, error) {
	geo, err := NewGeoChecker(config.Geo)
	if err != nil {
		return nil, err
	}

	g := &AdmissionGuard{
		ServiceBase: dispose.NewService("AdmissionGuard", ctx),
		store:       store,
		config:      config,
		limiter:     NewSlidingWindowLimiter(config.RateLimitWindow, config.RateLimitCount),
		geo:         geo,
		now:         time.Now,
	}

	go g.cleanupTask()
	return g, nil
}

// Middleware 准入中间件，包裹所有受保护的处理器
func (g *AdmissionGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ResolveRealIP(r)
		r = r.WithContext(WithClientIP(r.Context(), ip))

		// 访问记录尽力而为，失败不阻断请求
		if err := g.store.LogAccess(ip, r.Method+" "+r.URL.Path); err != nil {
			log.Debugf("AdmissionGuard: access log write failed: %v", err)
		}

		g.refreshRulesIfStale()

		addr, addrErr := netip.ParseAddr(ip)

		// 白名单短路：跳过全部后续门闸
		if addrErr == nil && g.matchWhitelist(addr) {
			next.ServeHTTP(w, r)
			return
		}

		// 管理黑名单
		if addrErr == nil {
			if reason, hit := g.matchBlacklist(addr); hit {
				g.reject(w, ip, reason)
				return
			}
		}

		// 自动封禁
		banned, err := g.store.IsIPBanned(ip)
		if err != nil {
			log.Warnf("AdmissionGuard: ban lookup failed for %s: %v", ip, err)
		}
		if banned {
			g.reject(w, ip, "You are banned.")
			return
		}

		// 地域检查（可选，查询失败放行）
		if !g.geo.Allowed(r.Context(), ip) {
			g.reject(w, ip, "Access from your region is not allowed.")
			return
		}

		// 滑动窗口限流，超限写入自动封禁并丢弃该IP历史
		if !g.limiter.Allow(ip) {
			banMinutes := int(g.config.AutoBanDuration.Minutes())
			reason := fmt.Sprintf("Rate limit exceeded. You are banned for %d minutes.", banMinutes)
			if err := g.store.BanIP(ip, g.config.AutoBanDuration, "rate limit exceeded"); err != nil {
				log.Errorf("AdmissionGuard: failed to write auto ban for %s: %v", ip, err)
			}
			g.limiter.Forget(ip)
			log.Warnf("AdmissionGuard: %s exceeded rate limit, banned for %d minutes", ip, banMinutes)
			g.reject(w, ip, reason)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// reject 以 403 拒绝请求，响应体为纯文本原因
func (g *AdmissionGuard) reject(w http.ResponseWriter, ip, reason string) {
	log.Debugf("AdmissionGuard: rejected %s: %s", ip, reason)
	http.Error(w, reason, http.StatusForbidden)
}

// refreshRulesIfStale 规则缓存超过 TTL 时从存储整体重载
// 存储 I/O 在锁外执行，结果整体替换
func (g *AdmissionGuard) refreshRulesIfStale() {
	g.cacheMu.Lock()
	stale := g.now().Sub(g.lastRefresh) > g.config.RuleCacheTTL
	if stale {
		// 先占位，避免并发请求重复刷新
		g.lastRefresh = g.now()
	}
	g.cacheMu.Unlock()
	if !stale {
		return
	}

	blacklist, err := g.store.ListBlacklistRules()
	if err != nil {
		log.Warnf("AdmissionGuard: failed to refresh blacklist rules: %v", err)
		return
	}
	whitelist, err := g.store.ListWhitelistRules()
	if err != nil {
		log.Warnf("AdmissionGuard: failed to refresh whitelist rules: %v", err)
		return
	}

	compiledBlack := make([]compiledRule, 0, len(blacklist))
	for _, r := range blacklist {
		compiledBlack = append(compiledBlack, compiledRule{
			rule:     r.Rule,
			reason:   r.Reason,
			prefixes: ParseRule(r.Rule),
		})
	}
	compiledWhite := make([]compiledRule, 0, len(whitelist))
	for _, r := range whitelist {
		compiledWhite = append(compiledWhite, compiledRule{
			rule:      r.Rule,
			prefixes:  ParseRule(r.Rule),
			expiresAt: r.ExpiresAt,
		})
	}

	g.cacheMu.Lock()
	g.blacklist = compiledBlack
	g.whitelist = compiledWhite
	g.cacheMu.Unlock()
	log.Debugf("AdmissionGuard: rule cache refreshed (%d blacklist, %d whitelist)",
		len(compiledBlack), len(compiledWhite))
}

// ForceRefreshRules 立即重载规则缓存（管理端修改规则后调用）
func (g *AdmissionGuard) ForceRefreshRules() {
	g.cacheMu.Lock()
	g.lastRefresh = time.Time{}
	g.cacheMu.Unlock()
	g.refreshRulesIfStale()
}

func (g *AdmissionGuard) matchWhitelist(addr netip.Addr) bool {
	g.cacheMu.Lock()
	rules := g.whitelist
	g.cacheMu.Unlock()

	now := g.now().Unix()
	for _, r := range rules {
		if r.expiresAt != 0 && r.expiresAt < now {
			continue
		}
		if matchesPrefixes(r.prefixes, addr) {
			return true
		}
	}
	return false
}

func (g *AdmissionGuard) matchBlacklist(addr netip.Addr) (string, bool) {
	g.cacheMu.Lock()
	rules := g.blacklist
	g.cacheMu.Unlock()

	for _, r := range rules {
		if matchesPrefixes(r.prefixes, addr) {
			reason := r.reason
			if reason == "" {
				reason = "Your IP is blacklisted."
			}
			return reason, true
		}
	}
	return "", false
}

// cleanupTask 周期清理限流器中已沉寂的IP
func (g *AdmissionGuard) cleanupTask() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-g.Ctx().Done():
			log.Infof("AdmissionGuard: cleanup task stopped")
			return
		case <-ticker.C:
			g.limiter.Cleanup()
		}
	}
}
