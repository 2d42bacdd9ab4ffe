// Package storage 提供大厅核心的持久化存储
// 基于单个 SQLite 文件，每个公开方法独立获取连接、独立提交
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"

	"craftlobby-core/internal/core/errors"
	"craftlobby-core/internal/core/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	full_room_code TEXT PRIMARY KEY,
	remote_port    INTEGER NOT NULL,
	node_id        INTEGER NOT NULL,
	room_name      TEXT NOT NULL,
	game_version   TEXT NOT NULL DEFAULT '',
	player_count   INTEGER NOT NULL DEFAULT 0,
	max_players    INTEGER NOT NULL DEFAULT 0,
	description    TEXT NOT NULL DEFAULT '',
	is_public      INTEGER NOT NULL DEFAULT 1,
	host_player    TEXT NOT NULL,
	server_addr    TEXT NOT NULL,
	client_ip      TEXT NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rooms_client_ip  ON rooms(client_ip);
CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at);

CREATE TABLE IF NOT EXISTS tunnels (
	server_addr    TEXT NOT NULL,
	remote_port    INTEGER NOT NULL,
	client_ip      TEXT NOT NULL,
	last_heartbeat INTEGER NOT NULL,
	PRIMARY KEY (server_addr, remote_port)
);

CREATE TABLE IF NOT EXISTS online_users (
	client_ip      TEXT PRIMARY KEY,
	last_heartbeat INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS auto_bans (
	ip           TEXT PRIMARY KEY,
	banned_until INTEGER NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS blacklist_rules (
	rule       TEXT PRIMARY KEY,
	reason     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS whitelist_rules (
	rule        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS access_log (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	client_ip TEXT NOT NULL,
	action    TEXT NOT NULL,
	ts        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_log_ts ON access_log(ts);
`

// Config 存储配置
type Config struct {
	Path string `yaml:"path"`
	// AccessLogDedupWindow 相同 (ip, action) 在窗口内不重复记录
	AccessLogDedupWindow time.Duration `yaml:"-"`
}

// Store 单文件持久化存储
// 并发模型：database/sql 连接池按调用发放连接，写操作不嵌套在读之内
type Store struct {
	db  *sql.DB
	cfg Config

	// 访问日志去重缓存，key 为 "ip|action"
	logDedup *lru.Cache[string, time.Time]

	now func() time.Time
}

const accessLogDedupSize = 4096

// Open 打开（必要时创建）存储文件并建表
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = "data/lobby.db"
	}
	if cfg.AccessLogDedupWindow <= 0 {
		cfg.AccessLogDedupWindow = 300 * time.Second
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(errors.CodeStorageError, "failed to create storage directory", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageError, "failed to open storage file", err)
	}
	// SQLite 同一时刻只允许单写者，串行化写连接
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.CodeStorageError, "failed to initialize schema", err)
	}

	dedup, err := lru.New[string, time.Time](accessLogDedupSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("Store: opened %s", cfg.Path)
	return &Store{
		db:       db,
		cfg:      cfg,
		logDedup: dedup,
		now:      time.Now,
	}, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats 各表行数统计，供管理端查看
type Stats struct {
	Rooms          int `json:"rooms"`
	ActiveTunnels  int `json:"active_tunnels"`
	OnlineUsers    int `json:"online_users"`
	AutoBans       int `json:"auto_bans"`
	BlacklistRules int `json:"blacklist_rules"`
	WhitelistRules int `json:"whitelist_rules"`
	AccessLogRows  int `json:"access_log_rows"`
}

// GetStats 统计各表行数
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}
	tables := []struct {
		name string
		dst  *int
	}{
		{"rooms", &stats.Rooms},
		{"tunnels", &stats.ActiveTunnels},
		{"online_users", &stats.OnlineUsers},
		{"auto_bans", &stats.AutoBans},
		{"blacklist_rules", &stats.BlacklistRules},
		{"whitelist_rules", &stats.WhitelistRules},
		{"access_log", &stats.AccessLogRows},
	}
	for _, t := range tables {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + t.name).Scan(t.dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t.name, err)
		}
	}
	return stats, nil
}
