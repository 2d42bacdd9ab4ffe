package maintenance

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"craftlobby-core/internal/core/dispose"
	"craftlobby-core/internal/core/log"
	"craftlobby-core/internal/models"
	"craftlobby-core/internal/moderation"
	"craftlobby-core/internal/probe"
)

// ProberStore 探测循环依赖的存储能力
type ProberStore interface {
	ListRooms(limit int) ([]models.Room, error)
	UpdateRoomStatus(fullRoomCode, version, description string) error
	DeleteRoomByCode(fullRoomCode string) error
}

// StatusProberConfig 探测循环配置
type StatusProberConfig struct {
	Interval  time.Duration
	RoomDelay time.Duration
	RoomCap   int
}

// DefaultStatusProberConfig 默认配置：30秒一轮，单轮最多500房，房间间隔500ms
func DefaultStatusProberConfig() StatusProberConfig {
	return StatusProberConfig{
		Interval:  30 * time.Second,
		RoomDelay: 500 * time.Millisecond,
		RoomCap:   500,
	}
}

// StatusProber 版本/MOTD 刷新循环
//
// 每轮对全部房间快照逐个探测：成功则回写真实版本与 MOTD，
// MOTD 命中敏感词直接删房。房间之间限速，避免探测挤占请求处理。
type StatusProber struct {
	*dispose.ServiceBase

	store     ProberStore
	prober    probe.Prober
	moderator *moderation.Moderator
	config    StatusProberConfig
	pacer     *rate.Limiter
}

// NewStatusProber 创建探测循环
func NewStatusProber(
	store ProberStore,
	prober probe.Prober,
	moderator *moderation.Moderator,
	config StatusProberConfig,
	ctx context.Context,
) *StatusProber {
	if config.RoomCap <= 0 {
		config.RoomCap = 500
	}
	return &StatusProber{
		ServiceBase: dispose.NewService("StatusProber", ctx),
		store:       store,
		prober:      prober,
		moderator:   moderator,
		config:      config,
		pacer:       rate.NewLimiter(rate.Every(config.RoomDelay), 1),
	}
}

// Run 运行探测循环直到上下文取消
func (p *StatusProber) Run() error {
	log.Infof("StatusProber: started (interval %s, cap %d)", p.config.Interval, p.config.RoomCap)
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.Ctx().Done():
			log.Infof("StatusProber: stopped")
			return nil
		case <-ticker.C:
			p.SweepOnce()
		}
	}
}

// SweepOnce 执行一轮探测
func (p *StatusProber) SweepOnce() {
	rooms, err := p.store.ListRooms(p.config.RoomCap)
	if err != nil {
		log.Warnf("StatusProber: failed to snapshot rooms: %v", err)
		return
	}

	for _, room := range rooms {
		// 房间间限速；关停时立即退出
		if err := p.pacer.Wait(p.Ctx()); err != nil {
			return
		}
		p.probeRoom(&room)
	}
}

// probeRoom 探测单个房间，失败仅跳过本轮
func (p *StatusProber) probeRoom(room *models.Room) {
	status, err := p.prober.Probe(p.Ctx(), room.ServerAddr, room.RemotePort)
	if err != nil {
		log.Debugf("StatusProber: probe of %s (%s:%d) failed: %v",
			room.FullRoomCode, room.ServerAddr, room.RemotePort, err)
		return
	}

	if err := p.store.UpdateRoomStatus(room.FullRoomCode, status.Version, status.MOTD); err != nil {
		log.Warnf("StatusProber: failed to update status of %s: %v", room.FullRoomCode, err)
		return
	}

	// 真实 MOTD 复查，违规即删房
	if rule := p.moderator.Check(status.MOTD); rule != "" {
		log.Warnf("StatusProber: room %s MOTD hit moderation rule %q, deleting",
			room.FullRoomCode, rule)
		if err := p.store.DeleteRoomByCode(room.FullRoomCode); err != nil {
			log.Errorf("StatusProber: failed to delete room %s: %v", room.FullRoomCode, err)
		}
	}
}
