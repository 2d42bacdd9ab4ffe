package storage

import (
	"fmt"
	"time"

	"craftlobby-core/internal/models"
)

// UpsertTunnel 刷新隧道校验心跳
func (s *Store) UpsertTunnel(serverAddr string, remotePort int, clientIP string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tunnels (server_addr, remote_port, client_ip, last_heartbeat)
		VALUES (?, ?, ?, ?)`,
		serverAddr, remotePort, clientIP, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tunnel: %w", err)
	}
	return nil
}

// CleanupStaleTunnels 删除超过 TTL 未心跳的隧道，返回删除数量
func (s *Store) CleanupStaleTunnels(ttl time.Duration) (int64, error) {
	res, err := s.db.Exec(
		"DELETE FROM tunnels WHERE last_heartbeat < ?",
		s.now().Add(-ttl).Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale tunnels: %w", err)
	}
	return res.RowsAffected()
}

// GetActiveTunnels 获取全部活跃隧道，按最近心跳倒序
func (s *Store) GetActiveTunnels() ([]models.ActiveTunnel, error) {
	rows, err := s.db.Query(
		"SELECT server_addr, remote_port, client_ip, last_heartbeat FROM tunnels ORDER BY last_heartbeat DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tunnels: %w", err)
	}
	defer rows.Close()

	var result []models.ActiveTunnel
	for rows.Next() {
		var t models.ActiveTunnel
		if err := rows.Scan(&t.ServerAddr, &t.RemotePort, &t.ClientIP, &t.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("failed to scan tunnel: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// UpdateOnlineHeartbeat 刷新应用在线心跳
func (s *Store) UpdateOnlineHeartbeat(clientIP string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO online_users (client_ip, last_heartbeat) VALUES (?, ?)",
		clientIP, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to update online heartbeat: %w", err)
	}
	return nil
}

// GetOnlineCount 统计 TTL 内有心跳的在线用户数
func (s *Store) GetOnlineCount(ttl time.Duration) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM online_users WHERE last_heartbeat >= ?",
		s.now().Add(-ttl).Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count online users: %w", err)
	}
	return count, nil
}

// CleanupOfflineUsers 删除超过 TTL 未心跳的在线记录
func (s *Store) CleanupOfflineUsers(ttl time.Duration) (int64, error) {
	res, err := s.db.Exec(
		"DELETE FROM online_users WHERE last_heartbeat < ?",
		s.now().Add(-ttl).Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup offline users: %w", err)
	}
	return res.RowsAffected()
}

// GetOnlineUsers 获取在线用户明细，仅供管理端
func (s *Store) GetOnlineUsers() ([]models.OnlinePresence, error) {
	rows, err := s.db.Query(
		"SELECT client_ip, last_heartbeat FROM online_users ORDER BY last_heartbeat DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query online users: %w", err)
	}
	defer rows.Close()

	var result []models.OnlinePresence
	for rows.Next() {
		var p models.OnlinePresence
		if err := rows.Scan(&p.ClientIP, &p.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("failed to scan online user: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
