package storage

import (
	"database/sql"
	"fmt"
	"time"

	"craftlobby-core/internal/models"
)

// BanIP 写入自动封禁，同一IP重复封禁取最新
func (s *Store) BanIP(ip string, duration time.Duration, reason string) error {
	now := s.now()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO auto_bans (ip, banned_until, reason, created_at)
		VALUES (?, ?, ?, ?)`,
		ip, now.Add(duration).Unix(), reason, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to ban ip: %w", err)
	}
	return nil
}

// IsIPBanned 检查IP是否处于自动封禁中
// 读取时顺带清除已过期的封禁记录
func (s *Store) IsIPBanned(ip string) (bool, error) {
	var bannedUntil int64
	err := s.db.QueryRow("SELECT banned_until FROM auto_bans WHERE ip = ?", ip).Scan(&bannedUntil)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query ban: %w", err)
	}
	if bannedUntil < s.now().Unix() {
		// 过期即清除
		if _, err := s.db.Exec("DELETE FROM auto_bans WHERE ip = ?", ip); err != nil {
			return false, fmt.Errorf("failed to clear expired ban: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// ListAutoBans 获取全部自动封禁记录
func (s *Store) ListAutoBans() ([]models.BanRecord, error) {
	rows, err := s.db.Query(
		"SELECT ip, banned_until, reason, created_at FROM auto_bans ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query auto bans: %w", err)
	}
	defer rows.Close()

	var result []models.BanRecord
	for rows.Next() {
		var b models.BanRecord
		if err := rows.Scan(&b.IP, &b.BannedUntil, &b.Reason, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ban record: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// AddBlacklistRule 添加管理员黑名单规则
func (s *Store) AddBlacklistRule(rule, reason string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO blacklist_rules (rule, reason, created_at) VALUES (?, ?, ?)",
		rule, reason, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to add blacklist rule: %w", err)
	}
	return nil
}

// RemoveBlacklistRule 删除管理员黑名单规则，幂等
func (s *Store) RemoveBlacklistRule(rule string) error {
	if _, err := s.db.Exec("DELETE FROM blacklist_rules WHERE rule = ?", rule); err != nil {
		return fmt.Errorf("failed to remove blacklist rule: %w", err)
	}
	return nil
}

// ListBlacklistRules 获取全部黑名单规则
func (s *Store) ListBlacklistRules() ([]models.BlacklistRule, error) {
	rows, err := s.db.Query(
		"SELECT rule, reason, created_at FROM blacklist_rules ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist rules: %w", err)
	}
	defer rows.Close()

	var result []models.BlacklistRule
	for rows.Next() {
		var r models.BlacklistRule
		if err := rows.Scan(&r.Rule, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist rule: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// AddWhitelistRule 添加管理员白名单规则，duration 为 0 表示永久
func (s *Store) AddWhitelistRule(rule, description string, duration time.Duration) error {
	now := s.now()
	var expiresAt int64
	if duration > 0 {
		expiresAt = now.Add(duration).Unix()
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO whitelist_rules (rule, description, created_at, expires_at) VALUES (?, ?, ?, ?)",
		rule, description, now.Unix(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add whitelist rule: %w", err)
	}
	return nil
}

// RemoveWhitelistRule 删除管理员白名单规则，幂等
func (s *Store) RemoveWhitelistRule(rule string) error {
	if _, err := s.db.Exec("DELETE FROM whitelist_rules WHERE rule = ?", rule); err != nil {
		return fmt.Errorf("failed to remove whitelist rule: %w", err)
	}
	return nil
}

// ListWhitelistRules 获取全部白名单规则（过期与否由匹配方判断）
func (s *Store) ListWhitelistRules() ([]models.WhitelistRule, error) {
	rows, err := s.db.Query(
		"SELECT rule, description, created_at, expires_at FROM whitelist_rules ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query whitelist rules: %w", err)
	}
	defer rows.Close()

	var result []models.WhitelistRule
	for rows.Next() {
		var r models.WhitelistRule
		if err := rows.Scan(&r.Rule, &r.Description, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist rule: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
