// Package api 提供大厅的 HTTP 接口层：客户端路由、隧道校验与管理端路由
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"craftlobby-core/internal/core/dispose"
	"craftlobby-core/internal/core/log"
	"craftlobby-core/internal/moderation"
	"craftlobby-core/internal/probe"
	"craftlobby-core/internal/security"
	"craftlobby-core/internal/storage"
)

// Config API 服务器配置
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	AdminKey     string `yaml:"admin_key"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	IdleTimeout  int    `yaml:"idle_timeout"`
}

const adminKeyHeader = "X-Admin-Key"

// LobbyAPIServer 大厅 API 服务器
type LobbyAPIServer struct {
	*dispose.ServiceBase

	config    *Config
	store     *storage.Store
	guard     *security.AdmissionGuard
	prober    probe.Prober
	moderator *moderation.Moderator
	helper    *ResponseHelper
	router    *mux.Router
	server    *http.Server

	// 单次同步探测允许占用的最长时间
	probeBudget time.Duration

	startedAt time.Time
}

// NewLobbyAPIServer 创建大厅 API 服务器并注册全部路由
func NewLobbyAPIServer(
	ctx context.Context,
	config *Config,
	store *storage.Store,
	guard *security.AdmissionGuard,
	prober probe.Prober,
	moderator *moderation.Moderator,
	probeBudget time.Duration,
) *LobbyAPIServer {
	s := &LobbyAPIServer{
		ServiceBase: dispose.NewService("LobbyAPIServer", ctx),
		config:      config,
		store:       store,
		guard:       guard,
		prober:      prober,
		moderator:   moderator,
		helper:      NewResponseHelper(),
		router:      mux.NewRouter(),
		probeBudget: probeBudget,
		startedAt:   time.Now(),
	}
	if s.probeBudget <= 0 {
		s.probeBudget = 15 * time.Second
	}

	s.registerRoutes()

	readTimeout := 30
	if config.ReadTimeout > 0 {
		readTimeout = config.ReadTimeout
	}
	// 写超时必须覆盖同步探测的最长耗时
	writeTimeout := int(s.probeBudget.Seconds()) + 15
	if config.WriteTimeout > writeTimeout {
		writeTimeout = config.WriteTimeout
	}
	idleTimeout := 120
	if config.IdleTimeout > 0 {
		idleTimeout = config.IdleTimeout
	}

	s.server = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
		IdleTimeout:  time.Duration(idleTimeout) * time.Second,
	}

	s.AddCleanHandler(func() error {
		log.Infof("LobbyAPIServer: shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})

	return s
}

// Start 启动服务器，监听失败通过 errCh 上报
func (s *LobbyAPIServer) Start(errCh chan<- error) {
	log.Infof("LobbyAPIServer: starting on %s", s.config.ListenAddr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("LobbyAPIServer: ListenAndServe error: %v", err)
			if errCh != nil {
				errCh <- err
			}
		}
	}()
}

// Router 暴露路由器，供测试直接挂载
func (s *LobbyAPIServer) Router() http.Handler {
	return s.router
}

// registerRoutes 注册所有路由
func (s *LobbyAPIServer) registerRoutes() {
	// 健康检查不经过准入门闸
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")

	// 客户端路由：请求ID + 访问日志 + 准入门闸
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.requestIDMiddleware)
	api.Use(s.loggingMiddleware)
	api.Use(s.guard.Middleware)

	api.HandleFunc("/lobby/rooms", s.handleUpsertRoom).Methods("POST")
	api.HandleFunc("/lobby/rooms", s.handleDeleteRoom).Methods("DELETE")
	api.HandleFunc("/lobby/rooms", s.handleListRooms).Methods("GET")
	api.HandleFunc("/lobby/heartbeat", s.handleHeartbeat).Methods("POST")
	api.HandleFunc("/lobby/online", s.handleOnlineCount).Methods("GET")
	api.HandleFunc("/tunnel/validate", s.handleTunnelValidate).Methods("POST")
	api.HandleFunc("/check_access", s.handleCheckAccess).Methods("GET")
	api.HandleFunc("/report_violation", s.handleReportViolation).Methods("POST")

	// 管理端路由：再叠加固定密钥校验
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminAuthMiddleware)

	admin.HandleFunc("/blacklist", s.handleListBlacklist).Methods("GET")
	admin.HandleFunc("/blacklist", s.handleAddBlacklist).Methods("POST")
	admin.HandleFunc("/blacklist", s.handleRemoveBlacklist).Methods("DELETE")
	admin.HandleFunc("/whitelist", s.handleListWhitelist).Methods("GET")
	admin.HandleFunc("/whitelist", s.handleAddWhitelist).Methods("POST")
	admin.HandleFunc("/whitelist", s.handleRemoveWhitelist).Methods("DELETE")
	admin.HandleFunc("/access_log", s.handleAccessLog).Methods("GET")
	admin.HandleFunc("/tunnels", s.handleAdminTunnels).Methods("GET")
	admin.HandleFunc("/online_users", s.handleAdminOnlineUsers).Methods("GET")
	admin.HandleFunc("/stats", s.handleAdminStats).Methods("GET")
	admin.HandleFunc("/moderation/reload", s.handleModerationReload).Methods("POST")
}

// requestIDMiddleware 请求ID中间件，沿用或生成 X-Request-ID
func (s *LobbyAPIServer) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware 日志中间件
func (s *LobbyAPIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debugf("API: %s %s - %s", r.Method, r.RequestURI, time.Since(start))
	})
}

// adminAuthMiddleware 管理端固定密钥校验
func (s *LobbyAPIServer) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(adminKeyHeader)
		if s.config.AdminKey == "" ||
			subtle.ConstantTimeCompare([]byte(key), []byte(s.config.AdminKey)) != 1 {
			s.helper.Error(w, http.StatusForbidden, "Invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth 健康检查
func (s *LobbyAPIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.helper.Success(w, map[string]interface{}{
		"status":    "ok",
		"uptime_s":  int(time.Since(s.startedAt).Seconds()),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
