package security

import (
	"sync"
	"time"
)

// SlidingWindowLimiter 按IP的滑动窗口限流器
//
// 每个IP维护一个请求时间戳队列：请求到达时裁掉窗口外的旧记录，
// 队列未满则放行并追加时间戳，已满则拒绝。
// 临界区只做内存操作，不含任何 I/O。
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	history map[string][]time.Time

	now func() time.Time
}

// NewSlidingWindowLimiter 创建滑动窗口限流器
func NewSlidingWindowLimiter(window time.Duration, limit int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		window:  window,
		limit:   limit,
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow 尝试放行一次请求
// 返回 false 表示窗口已满，此时不追加时间戳
func (l *SlidingWindowLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	hist := l.history[ip]
	trimmed := hist[:0]
	for _, t := range hist {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}

	if len(trimmed) >= l.limit {
		l.history[ip] = trimmed
		return false
	}
	l.history[ip] = append(trimmed, now)
	return true
}

// Forget 丢弃某IP的全部历史（封禁后调用，释放内存）
func (l *SlidingWindowLimiter) Forget(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, ip)
}

// Cleanup 清理窗口内已无记录的IP，供后台任务周期调用
func (l *SlidingWindowLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for ip, hist := range l.history {
		live := false
		for _, t := range hist {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.history, ip)
		}
	}
}
