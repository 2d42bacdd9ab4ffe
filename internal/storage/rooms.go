package storage

import (
	"database/sql"
	"fmt"
	"time"

	"craftlobby-core/internal/core/errors"
	"craftlobby-core/internal/models"
)

// UpsertRoom 创建或刷新房间（注册与心跳共用）
//
// 保留规则：
//   - 已存储的 game_version 为探测值（非哨兵），或新值为哨兵时，保留已存储值
//   - 已存储的 description 非空时保留，否则取新值
//   - 其余字段无条件覆盖，updated_at 取当前时间，client_ip 取调用方真实IP
//
// 防多开检查在写入事务内复核：外层握手校验耗时较长，期间同IP可能
// 已注册其它房间，仅靠入口处的检查会让并发注册双双落库。
// 冲突时返回 errors.ErrConflict。
func (s *Store) UpsertRoom(room *models.Room, clientIP string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var conflict bool
	err = tx.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM rooms WHERE client_ip = ? AND full_room_code <> ?)",
		clientIP, room.FullRoomCode,
	).Scan(&conflict)
	if err != nil {
		return fmt.Errorf("failed to check ip conflict: %w", err)
	}
	if conflict {
		return errors.Newf(errors.CodeConflict, "ip %s already owns another room", clientIP)
	}

	version := room.GameVersion
	description := room.Description

	var storedVersion, storedDesc string
	err = tx.QueryRow(
		"SELECT game_version, description FROM rooms WHERE full_room_code = ?",
		room.FullRoomCode,
	).Scan(&storedVersion, &storedDesc)
	switch {
	case err == sql.ErrNoRows:
		// 首次注册，直接取新值
	case err != nil:
		return fmt.Errorf("failed to query existing room: %w", err)
	default:
		if !models.IsSentinelVersion(storedVersion) || models.IsSentinelVersion(version) {
			version = storedVersion
		}
		if storedDesc != "" {
			description = storedDesc
		}
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO rooms
			(full_room_code, remote_port, node_id, room_name, game_version,
			 player_count, max_players, description, is_public, host_player,
			 server_addr, client_ip, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		room.FullRoomCode, room.RemotePort, room.NodeID, room.RoomName, version,
		room.PlayerCount, room.MaxPlayers, description, room.IsPublic, room.HostPlayer,
		room.ServerAddr, clientIP, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert room: %w", err)
	}
	return tx.Commit()
}

// DeleteRoom 删除房间，幂等
func (s *Store) DeleteRoom(remotePort, nodeID int) error {
	_, err := s.db.Exec(
		"DELETE FROM rooms WHERE full_room_code = ?",
		models.RoomCode(remotePort, nodeID),
	)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// DeleteRoomByCode 按房间码删除，供探测循环和审计使用
func (s *Store) DeleteRoomByCode(fullRoomCode string) error {
	if _, err := s.db.Exec("DELETE FROM rooms WHERE full_room_code = ?", fullRoomCode); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// GetPublicRooms 获取公开房间列表，按最近心跳倒序
func (s *Store) GetPublicRooms(limit int) ([]models.Room, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryRooms(
		"SELECT "+roomColumns+" FROM rooms WHERE is_public = 1 ORDER BY updated_at DESC LIMIT ?",
		limit,
	)
}

// ListRooms 获取全部房间快照（含非公开），供探测循环使用
func (s *Store) ListRooms(limit int) ([]models.Room, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.queryRooms(
		"SELECT "+roomColumns+" FROM rooms ORDER BY updated_at DESC LIMIT ?",
		limit,
	)
}

const roomColumns = `full_room_code, remote_port, node_id, room_name, game_version,
	player_count, max_players, description, is_public, host_player,
	server_addr, client_ip, updated_at`

func (s *Store) queryRooms(query string, args ...interface{}) ([]models.Room, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var result []models.Room
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(
			&r.FullRoomCode, &r.RemotePort, &r.NodeID, &r.RoomName, &r.GameVersion,
			&r.PlayerCount, &r.MaxPlayers, &r.Description, &r.IsPublic, &r.HostPlayer,
			&r.ServerAddr, &r.ClientIP, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetRoom 按房间码查询单个房间
func (s *Store) GetRoom(fullRoomCode string) (*models.Room, error) {
	rooms, err := s.queryRooms(
		"SELECT "+roomColumns+" FROM rooms WHERE full_room_code = ?",
		fullRoomCode,
	)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, nil
	}
	return &rooms[0], nil
}

// UpdateRoomStatus 探测循环专用：无条件覆盖版本与 MOTD
func (s *Store) UpdateRoomStatus(fullRoomCode, version, description string) error {
	_, err := s.db.Exec(
		"UPDATE rooms SET game_version = ?, description = ? WHERE full_room_code = ?",
		version, description, fullRoomCode,
	)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	return nil
}

// CleanupStaleRooms 删除超过 TTL 未心跳的房间，返回删除数量
func (s *Store) CleanupStaleRooms(ttl time.Duration) (int64, error) {
	res, err := s.db.Exec(
		"DELETE FROM rooms WHERE updated_at < ?",
		s.now().Add(-ttl).Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale rooms: %w", err)
	}
	return res.RowsAffected()
}

// CheckIPConflict 同一IP是否已占用其它房间（防多开）
func (s *Store) CheckIPConflict(clientIP, fullRoomCode string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM rooms WHERE client_ip = ? AND full_room_code <> ?)",
		clientIP, fullRoomCode,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check ip conflict: %w", err)
	}
	return exists, nil
}
