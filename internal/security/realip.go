// Package security 提供准入控制：真实IP解析、黑白名单、限流、自动封禁
package security

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey string

const clientIPKey contextKey = "client_ip"

// ResolveRealIP 解析请求方真实IP
// 优先取 X-Forwarded-For 首项，其次 X-Real-IP，再次传输层对端，兜底 127.0.0.1
func ResolveRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if _, err := netip.ParseAddr(first); err == nil {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		if _, err := netip.ParseAddr(realIP); err == nil {
			return realIP
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if _, err := netip.ParseAddr(host); err == nil {
			return host
		}
	}
	return "127.0.0.1"
}

// WithClientIP 将已解析的真实IP写入请求上下文
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP 从请求上下文取出真实IP，未经过准入中间件时现场解析
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return ResolveRealIP(r)
}
