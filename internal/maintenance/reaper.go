// Package maintenance 承载大厅的后台维护循环
// 各循环彼此独立，只依赖存储的单操作原子性，不持全局锁
package maintenance

import (
	"context"
	"time"

	"craftlobby-core/internal/core/dispose"
	"craftlobby-core/internal/core/log"
)

// ReaperStore 清理循环依赖的存储能力
type ReaperStore interface {
	CleanupStaleRooms(ttl time.Duration) (int64, error)
	CleanupOfflineUsers(ttl time.Duration) (int64, error)
	CleanupStaleTunnels(ttl time.Duration) (int64, error)
}

// ReaperConfig 清理循环配置
type ReaperConfig struct {
	Interval    time.Duration
	RoomTTL     time.Duration
	PresenceTTL time.Duration
	TunnelTTL   time.Duration
}

// DefaultReaperConfig 默认配置：60秒一轮，房间/在线/隧道 TTL 10s/15s/40s
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:    60 * time.Second,
		RoomTTL:     10 * time.Second,
		PresenceTTL: 15 * time.Second,
		TunnelTTL:   40 * time.Second,
	}
}

// Reaper 过期清理循环
// 每轮依次清理过期房间、离线用户和失联隧道；进程重启后首轮即恢复全部不变量
type Reaper struct {
	*dispose.ServiceBase

	store  ReaperStore
	config ReaperConfig
}

// NewReaper 创建清理循环
func NewReaper(store ReaperStore, config ReaperConfig, ctx context.Context) *Reaper {
	return &Reaper{
		ServiceBase: dispose.NewService("Reaper", ctx),
		store:       store,
		config:      config,
	}
}

// Run 运行清理循环直到上下文取消
func (r *Reaper) Run() error {
	log.Infof("Reaper: started (interval %s)", r.config.Interval)
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Ctx().Done():
			log.Infof("Reaper: stopped")
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep 执行一轮清理
func (r *Reaper) Sweep() {
	if n, err := r.store.CleanupStaleRooms(r.config.RoomTTL); err != nil {
		log.Warnf("Reaper: room cleanup failed: %v", err)
	} else if n > 0 {
		log.Infof("Reaper: removed %d stale rooms", n)
	}

	if n, err := r.store.CleanupOfflineUsers(r.config.PresenceTTL); err != nil {
		log.Warnf("Reaper: presence cleanup failed: %v", err)
	} else if n > 0 {
		log.Infof("Reaper: removed %d offline users", n)
	}

	if n, err := r.store.CleanupStaleTunnels(r.config.TunnelTTL); err != nil {
		log.Warnf("Reaper: tunnel cleanup failed: %v", err)
	} else if n > 0 {
		log.Infof("Reaper: removed %d stale tunnels", n)
	}
}
