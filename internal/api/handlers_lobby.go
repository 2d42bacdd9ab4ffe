package api

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"craftlobby-core/internal/core/errors"
	"craftlobby-core/internal/core/log"
	"craftlobby-core/internal/models"
	"craftlobby-core/internal/security"
)

const (
	maxRoomNameLen    = 50
	maxDescriptionLen = 200
)

// upsertRoomRequest 房间注册/心跳请求体，未知字段忽略
type upsertRoomRequest struct {
	FullRoomCode string `json:"full_room_code"`
	RemotePort   int    `json:"remote_port"`
	NodeID       int    `json:"node_id"`
	RoomName     string `json:"room_name"`
	GameVersion  string `json:"game_version"`
	PlayerCount  int    `json:"player_count"`
	MaxPlayers   int    `json:"max_players"`
	Description  string `json:"description"`
	IsPublic     bool   `json:"is_public"`
	HostPlayer   string `json:"host_player"`
	ServerAddr   string `json:"server_addr"`
}

// handleUpsertRoom 创建或刷新房间（注册与心跳共用入口）
//
// 流程：字段校验 → 防多开检查 → 敏感词审查 → 同步探测校验 → 落库
// 公开房间落库后调度一次性的后台审计，复查真实 MOTD
func (s *LobbyAPIServer) handleUpsertRoom(w http.ResponseWriter, r *http.Request) {
	var req upsertRoomRequest
	if err := parseJSONBody(r, &req); err != nil {
		s.helper.Error(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	if req.RemotePort < 1 || req.RemotePort > 65535 {
		s.helper.Error(w, http.StatusUnprocessableEntity, "remote_port out of range")
		return
	}
	if req.NodeID < 0 {
		s.helper.Error(w, http.StatusUnprocessableEntity, "invalid node_id")
		return
	}
	if req.HostPlayer == "" {
		s.helper.Error(w, http.StatusUnprocessableEntity, "host_player is required")
		return
	}
	if req.ServerAddr == "" {
		s.helper.Error(w, http.StatusUnprocessableEntity, "server_addr is required")
		return
	}
	if utf8.RuneCountInString(req.RoomName) > maxRoomNameLen {
		s.helper.Error(w, http.StatusUnprocessableEntity, "room_name too long")
		return
	}
	if utf8.RuneCountInString(req.Description) > maxDescriptionLen {
		s.helper.Error(w, http.StatusUnprocessableEntity, "description too long")
		return
	}

	clientIP := security.ClientIP(r)
	// 房间码服务端重新生成，不信任客户端拼接
	fullRoomCode := models.RoomCode(req.RemotePort, req.NodeID)

	// 防多开：一个IP只允许占用一个房间
	conflict, err := s.store.CheckIPConflict(clientIP, fullRoomCode)
	if err != nil {
		s.helper.Refuse(w, fmt.Sprintf("Storage error: %v", err))
		return
	}
	if conflict {
		s.helper.Refuse(w, "禁止多开, 此IP已被占用")
		return
	}

	// 敏感词审查
	if rule := s.moderator.Check(req.RoomName); rule != "" {
		s.helper.Refuse(w, fmt.Sprintf("房间名包含敏感词: %s", rule))
		return
	}
	if rule := s.moderator.Check(req.Description); rule != "" {
		s.helper.Refuse(w, fmt.Sprintf("房间简介包含敏感词: %s", rule))
		return
	}

	// 同步探测：注册必须指向真实的 Minecraft 服务器
	probeCtx, cancel := context.WithTimeout(r.Context(), s.probeBudget)
	defer cancel()
	if _, err := s.prober.Probe(probeCtx, req.ServerAddr, req.RemotePort); err != nil {
		log.Debugf("LobbyAPI: registration probe of %s:%d failed: %v",
			req.ServerAddr, req.RemotePort, err)
		s.helper.Refuse(w, "Validation failed")
		return
	}

	room := &models.Room{
		FullRoomCode: fullRoomCode,
		RemotePort:   req.RemotePort,
		NodeID:       req.NodeID,
		RoomName:     req.RoomName,
		GameVersion:  req.GameVersion,
		PlayerCount:  req.PlayerCount,
		MaxPlayers:   req.MaxPlayers,
		Description:  req.Description,
		IsPublic:     req.IsPublic,
		HostPlayer:   req.HostPlayer,
		ServerAddr:   req.ServerAddr,
	}
	if err := s.store.UpsertRoom(room, clientIP); err != nil {
		// 探测期间该IP可能已抢注其它房间，落库时会再次命中防多开
		if errors.Is(err, errors.ErrConflict) {
			s.helper.Refuse(w, "禁止多开, 此IP已被占用")
			return
		}
		log.Errorf("LobbyAPI: failed to upsert room %s: %v", fullRoomCode, err)
		s.helper.Refuse(w, fmt.Sprintf("Storage error: %v", err))
		return
	}

	// 公开房间调度一次性审计，抓住绕过客户端审查的 MOTD
	if req.IsPublic {
		go s.auditRoom(fullRoomCode, req.ServerAddr, req.RemotePort)
	}

	s.helper.SuccessMessage(w, "Room updated")
}

// auditRoom 一次性后台审计：重新探测并审查真实 MOTD，违规即删房
func (s *LobbyAPIServer) auditRoom(fullRoomCode, serverAddr string, remotePort int) {
	ctx, cancel := context.WithTimeout(s.Ctx(), s.probeBudget)
	defer cancel()

	status, err := s.prober.Probe(ctx, serverAddr, remotePort)
	if err != nil {
		log.Debugf("LobbyAPI: audit probe of %s failed: %v", fullRoomCode, err)
		return
	}
	if rule := s.moderator.Check(status.MOTD); rule != "" {
		log.Warnf("LobbyAPI: room %s MOTD hit moderation rule %q, deleting", fullRoomCode, rule)
		if err := s.store.DeleteRoomByCode(fullRoomCode); err != nil {
			log.Errorf("LobbyAPI: failed to delete room %s after audit: %v", fullRoomCode, err)
		}
	}
}

// deleteRoomRequest 删房请求体
type deleteRoomRequest struct {
	RemotePort int `json:"remote_port"`
	NodeID     int `json:"node_id"`
}

// handleDeleteRoom 删除房间，幂等
func (s *LobbyAPIServer) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	var req deleteRoomRequest
	if err := parseJSONBody(r, &req); err != nil {
		s.helper.Error(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if err := s.store.DeleteRoom(req.RemotePort, req.NodeID); err != nil {
		s.helper.Refuse(w, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.helper.SuccessMessage(w, "Room deleted")
}

// roomView 对外暴露的房间信息，房主IP已脱敏
type roomView struct {
	models.Room
	HostIP string `json:"host_ip"`
}

// handleListRooms 获取公开房间列表
func (s *LobbyAPIServer) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.GetPublicRooms(100)
	if err != nil {
		s.helper.Refuse(w, fmt.Sprintf("Storage error: %v", err))
		return
	}

	views := make([]roomView, 0, len(rooms))
	for _, room := range rooms {
		views = append(views, roomView{Room: room, HostIP: MaskIP(room.ClientIP)})
	}
	s.helper.Success(w, views)
}

// handleHeartbeat 应用在线心跳
func (s *LobbyAPIServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	clientIP := security.ClientIP(r)
	if err := s.store.UpdateOnlineHeartbeat(clientIP); err != nil {
		s.helper.Refuse(w, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.helper.SuccessMessage(w, "ok")
}

// handleOnlineCount 当前在线人数
func (s *LobbyAPIServer) handleOnlineCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.GetOnlineCount(15 * time.Second)
	if err != nil {
		s.helper.Refuse(w, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.helper.Success(w, map[string]int{"count": count})
}

// handleCheckAccess 准入探针：能到达此处说明已通过全部门闸
func (s *LobbyAPIServer) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	s.helper.SuccessMessage(w, "ok")
}

// handleReportViolation 客户端自报非家庭宽带首跳
// 合成规则仅限上报方自身IP，防止借上报接口封禁他人
func (s *LobbyAPIServer) handleReportViolation(w http.ResponseWriter, r *http.Request) {
	clientIP := security.ClientIP(r)
	reason := fmt.Sprintf("封禁于%s 因为是非家庭宽带 (自动上报)",
		time.Now().Format("2006-01-02 15:04:05"))

	if err := s.store.AddBlacklistRule(clientIP, reason); err != nil {
		s.helper.Refuse(w, fmt.Sprintf("Storage error: %v", err))
		return
	}
	s.guard.ForceRefreshRules()
	log.Infof("LobbyAPI: %s self-reported non-residential uplink, blacklisted", clientIP)
	s.helper.SuccessMessage(w, "Violation recorded")
}
