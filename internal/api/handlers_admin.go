package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// addBlacklistRequest 添加黑名单规则请求体，未知字段拒绝
type addBlacklistRequest struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// addWhitelistRequest 添加白名单规则请求体
type addWhitelistRequest struct {
	Rule            string `json:"rule"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes"`
}

// removeRuleRequest 按规则串删除
type removeRuleRequest struct {
	Rule string `json:"rule"`
}

func (s *LobbyAPIServer) handleListBlacklist(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListBlacklistRules()
	if err != nil {
		s.helper.Error(w, http.StatusInternalServerError, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.helper.Success(w, rules)
}

func (s *LobbyAPIServer) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req addBlacklistRequest
	if err := parseStrictJSONBody(r, &req); err != nil {
		s.helper.Error(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if req.Rule == "" {
		s.helper.Error(w, http.StatusUnprocessableEntity, "rule is required")
		return
	}
	if err := s.store.AddBlacklistRule(req.Rule, req.Reason); err != nil {
		s.helper.Error(w, http.StatusInternalServerError, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.guard.ForceRefreshRules()
	s.helper.SuccessMessage(w, "Rule added")
}

func (s *LobbyAPIServer) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	var req removeRuleRequest
	if err := parseStrictJSONBody(r, &req); err != nil {
		s.helper.Error(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if err := s.store.RemoveBlacklistRule(req.Rule); err != nil {
		s.helper.Error(w, http.StatusInternalServerError, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.guard.ForceRefreshRules()
	s.helper.SuccessMessage(w, "Rule removed")
}

func (s *LobbyAPIServer) handleListWhitelist(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListWhitelistRules()
	if err != nil {
		s.helper.Error(w, http.StatusInternalServerError, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.helper.Success(w, rules)
}

func (s *LobbyAPIServer) handleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	var req addWhitelistRequest
	if err := parseStrictJSONBody(r, &req); err != nil {
		s.helper.Error(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if req.Rule == "" {
		s.helper.Error(w, http.StatusUnprocessableEntity, "rule is required")
		return
	}
	if err := s.store.AddWhitelistRule(req.Rule, req.Description,
		time.Duration(req.DurationMinutes)*time.Minute); err != nil {
		s.helper.Error(w, http.StatusInternalServerError, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.guard.ForceRefreshRules()
	s.helper.SuccessMessage(w, "Rule added")
}

func (s *LobbyAPIServer) handleRemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	var req removeRuleRequest
	if err := parseStrictJSONBody(r, &req); err != nil {
		s.helper.Error(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if err := s.store.RemoveWhitelistRule(req.Rule); err != nil {
		s.helper.Error(w, http.StatusInternalServerError, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.guard.ForceRefreshRules()
	s.helper.SuccessMessage(w, "Rule removed")
}

func (s *LobbyAPIServer) handleAccessLog(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.store.ListAccessLog(limit)
	if err != nil {
		s.helper.Error(w, http.StatusInternalServerError, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.helper.Success(w, entries)
}

func (s *LobbyAPIServer) handleAdminTunnels(w http.ResponseWriter, r *http.Request) {
	tunnels, err := s.store.GetActiveTunnels()
	if err != nil {
		s.helper.Error(w, http.StatusInternalServerError, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.helper.Success(w, tunnels)
}

func (s *LobbyAPIServer) handleAdminOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.GetOnlineUsers()
	if err != nil {
		s.helper.Error(w, http.StatusInternalServerError, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.helper.Success(w, users)
}

func (s *LobbyAPIServer) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.helper.Error(w, http.StatusInternalServerError, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.helper.Success(w, stats)
}

func (s *LobbyAPIServer) handleModerationReload(w http.ResponseWriter, r *http.Request) {
	if err := s.moderator.Reload(); err != nil {
		s.helper.Error(w, http.StatusInternalServerError, fmt.Sprintf("Reload failed: %v", err))
		return
	}
	s.helper.Success(w, map[string]int{"rules": s.moderator.RuleCount()})
}
