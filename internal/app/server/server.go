package server

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"craftlobby-core/internal/api"
	"craftlobby-core/internal/core/log"
	"craftlobby-core/internal/maintenance"
	"craftlobby-core/internal/moderation"
	"craftlobby-core/internal/probe"
	"craftlobby-core/internal/security"
	"craftlobby-core/internal/storage"
)

// Server 进程级组装：存储、准入、探测、HTTP 服务与后台维护循环
type Server struct {
	config *Config

	ctx  context.Context
	stop context.CancelFunc

	store        *storage.Store
	guard        *security.AdmissionGuard
	moderator    *moderation.Moderator
	prober       *probe.RobustProber
	apiServer    *api.LobbyAPIServer
	reaper       *maintenance.Reaper
	statusProber *maintenance.StatusProber
}

// New 按配置组装全部组件，任一组件初始化失败都返回错误
func New(parent context.Context, config *Config) (*Server, error) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)

	s := &Server{
		config: config,
		ctx:    ctx,
		stop:   stop,
	}

	store, err := storage.Open(storage.Config{
		Path:                 config.Storage.Path,
		AccessLogDedupWindow: time.Duration(config.Security.AccessLogDedupS) * time.Second,
	})
	if err != nil {
		stop()
		return nil, err
	}
	s.store = store

	s.moderator = moderation.New(config.Moderation.WordlistFile)

	guard, err := security.NewAdmissionGuard(store, config.GuardConfig(), ctx)
	if err != nil {
		store.Close()
		stop()
		return nil, err
	}
	s.guard = guard

	probeConfig := config.ProberConfig()
	if len(probeConfig.Timeouts) == 0 {
		probeConfig = probe.DefaultConfig()
	}
	s.prober = probe.NewRobustProber(probeConfig)

	s.apiServer = api.NewLobbyAPIServer(
		ctx,
		&config.Server,
		store,
		guard,
		s.prober,
		s.moderator,
		s.prober.MaxProbeDuration(),
	)

	s.reaper = maintenance.NewReaper(store, config.ReaperConfig(), ctx)
	s.statusProber = maintenance.NewStatusProber(store, s.prober, s.moderator, config.StatusProberConfig(), ctx)

	return s, nil
}

// Run 启动全部组件并阻塞至退出信号或组件故障，随后按依赖反序收尾
func (s *Server) Run() error {
	defer s.shutdown()

	errCh := make(chan error, 1)
	s.apiServer.Start(errCh)

	g, _ := errgroup.WithContext(s.ctx)
	g.Go(s.reaper.Run)
	g.Go(s.statusProber.Run)

	var runErr error
	select {
	case <-s.ctx.Done():
		log.Infof("Server: shutdown signal received")
	case err := <-errCh:
		log.Errorf("Server: API server failed: %v", err)
		runErr = err
	}

	// 取消上下文让后台循环退出，再等它们收尾
	s.stop()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (s *Server) shutdown() {
	if err := s.apiServer.Dispose(); err != nil {
		log.Warnf("Server: API server dispose error: %v", err)
	}
	if err := s.guard.Dispose(); err != nil {
		log.Warnf("Server: admission guard dispose error: %v", err)
	}
	// 存储最后关闭，保证收尾期间的写入不丢
	if err := s.store.Close(); err != nil {
		log.Warnf("Server: storage close error: %v", err)
	}
	s.stop()
}
