package api

import (
	"context"
	"fmt"
	"net/http"

	"craftlobby-core/internal/core/log"
	"craftlobby-core/internal/security"
)

// tunnelValidateRequest 隧道校验请求体
type tunnelValidateRequest struct {
	ServerAddr string `json:"server_addr"`
	RemotePort int    `json:"remote_port"`
}

// tunnelValidateResponse 隧道校验响应
// command 为 "keep-alive" 或 "stop"，客户端收到 stop 必须拆除隧道
type tunnelValidateResponse struct {
	Success bool   `json:"success"`
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
}

// handleTunnelValidate 隧道校验心跳
// 探测成功刷新隧道记录并应答 keep-alive；探测失败应答 stop，不落库
func (s *LobbyAPIServer) handleTunnelValidate(w http.ResponseWriter, r *http.Request) {
	var req tunnelValidateRequest
	if err := parseJSONBody(r, &req); err != nil {
		s.helper.Error(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if req.ServerAddr == "" || req.RemotePort < 1 || req.RemotePort > 65535 {
		s.helper.Error(w, http.StatusUnprocessableEntity, "invalid server_addr or remote_port")
		return
	}

	probeCtx, cancel := context.WithTimeout(r.Context(), s.probeBudget)
	defer cancel()

	if _, err := s.prober.Probe(probeCtx, req.ServerAddr, req.RemotePort); err != nil {
		log.Debugf("LobbyAPI: tunnel validation of %s:%d failed: %v",
			req.ServerAddr, req.RemotePort, err)
		writeJSON(w, http.StatusOK, tunnelValidateResponse{
			Success: false,
			Command: "stop",
			Reason:  fmt.Sprintf("Server validation failed (%v)", err),
		})
		return
	}

	clientIP := security.ClientIP(r)
	if err := s.store.UpsertTunnel(req.ServerAddr, req.RemotePort, clientIP); err != nil {
		log.Errorf("LobbyAPI: failed to upsert tunnel %s:%d: %v",
			req.ServerAddr, req.RemotePort, err)
		// 隧道本身健康但记录未落库，不下发 stop，由客户端下次心跳重试
		writeJSON(w, http.StatusOK, tunnelValidateResponse{
			Success: false,
			Reason:  fmt.Sprintf("Storage error: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, tunnelValidateResponse{
		Success: true,
		Command: "keep-alive",
	})
}
