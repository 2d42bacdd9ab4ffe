package storage

import (
	"fmt"

	"craftlobby-core/internal/models"
)

// LogAccess 记录一次访问
// 相同 (ip, action) 在去重窗口内只记录一次；窗口判断走 LRU 缓存，不查库
func (s *Store) LogAccess(clientIP, action string) error {
	key := clientIP + "|" + action
	now := s.now()

	if last, ok := s.logDedup.Get(key); ok {
		if now.Sub(last) < s.cfg.AccessLogDedupWindow {
			return nil
		}
	}

	_, err := s.db.Exec(
		"INSERT INTO access_log (client_ip, action, ts) VALUES (?, ?, ?)",
		clientIP, action, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to log access: %w", err)
	}
	s.logDedup.Add(key, now)
	return nil
}

// ListAccessLog 获取最近的访问日志
func (s *Store) ListAccessLog(limit int) ([]models.AccessLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(
		"SELECT client_ip, action, ts FROM access_log ORDER BY ts DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query access log: %w", err)
	}
	defer rows.Close()

	var result []models.AccessLogEntry
	for rows.Next() {
		var e models.AccessLogEntry
		if err := rows.Scan(&e.ClientIP, &e.Action, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan access log entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
