package probe

import (
	"context"
	"fmt"
	"time"

	"craftlobby-core/internal/core/errors"
	"craftlobby-core/internal/core/log"
)

// Prober 探测接口，便于在测试中替换实现
type Prober interface {
	Probe(ctx context.Context, host string, port int) (*ServerStatus, error)
}

// Config 探测配置
type Config struct {
	// Timeouts 每次尝试的超时，依次递增
	Timeouts []time.Duration
	// Backoffs 两次尝试之间的等待
	Backoffs []time.Duration
}

// DefaultConfig 默认的三次渐进探测：2s/3s/5s，间隔 0.5s/1s
func DefaultConfig() Config {
	return Config{
		Timeouts: []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second},
		Backoffs: []time.Duration{500 * time.Millisecond, time.Second},
	}
}

// RobustProber 多次渐进超时探测器，首次成功即返回
type RobustProber struct {
	config Config
}

// NewRobustProber 创建探测器，空配置回落到默认值
func NewRobustProber(config Config) *RobustProber {
	if len(config.Timeouts) == 0 {
		config = DefaultConfig()
	}
	return &RobustProber{config: config}
}

// Probe 按配置的超时序列探测，全部失败返回最后一次错误
func (p *RobustProber) Probe(ctx context.Context, host string, port int) (*ServerStatus, error) {
	var lastErr error
	for i, timeout := range p.config.Timeouts {
		status, err := Ping(ctx, host, port, timeout)
		if err == nil {
			return status, nil
		}
		lastErr = err
		log.Debugf("Prober: attempt %d/%d against %s:%d failed: %v",
			i+1, len(p.config.Timeouts), host, port, err)

		if i < len(p.config.Timeouts)-1 && i < len(p.config.Backoffs) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.config.Backoffs[i]):
			}
		}
	}
	return nil, errors.Wrap(errors.CodeProbeFailed,
		fmt.Sprintf("all %d probe attempts failed", len(p.config.Timeouts)), lastErr)
}

// MaxProbeDuration 一次完整探测的时间上限（全部超时加全部退避）
// 用于为同步探测的请求设定截止时间
func (p *RobustProber) MaxProbeDuration() time.Duration {
	var total time.Duration
	for _, t := range p.config.Timeouts {
		total += t
	}
	for _, b := range p.config.Backoffs {
		total += b
	}
	return total
}
