package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftlobby-core/internal/models"
	"craftlobby-core/internal/probe"
)

func validRoomRequest() map[string]interface{} {
	return map[string]interface{}{
		"remote_port": 25565,
		"node_id":     1,
		"room_name":   "周末开黑",
		"game_version": "未知版本",
		"player_count": 1,
		"max_players":  8,
		"description":  "",
		"is_public":    true,
		"host_player":  "Steve",
		"server_addr":  "node1.example.com",
	}
}

func TestUpsertRoom_HappyPath(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", validRoomRequest())
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Room updated", resp.Message)

	room, err := env.store.GetRoom(models.RoomCode(25565, 1))
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, "周末开黑", room.RoomName)
	assert.Equal(t, "203.0.113.5", room.ClientIP)
}

func TestUpsertRoom_FieldValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"port zero", func(m map[string]interface{}) { m["remote_port"] = 0 }},
		{"port too large", func(m map[string]interface{}) { m["remote_port"] = 65536 }},
		{"negative node", func(m map[string]interface{}) { m["node_id"] = -1 }},
		{"missing host player", func(m map[string]interface{}) { m["host_player"] = "" }},
		{"missing server addr", func(m map[string]interface{}) { m["server_addr"] = "" }},
		{"room name too long", func(m map[string]interface{}) { m["room_name"] = strings.Repeat("名", 51) }},
		{"description too long", func(m map[string]interface{}) { m["description"] = strings.Repeat("字", 201) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRoomRequest()
			tc.mutate(req)
			w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", req)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		})
	}

	// 边界值恰好合法
	req := validRoomRequest()
	req["remote_port"] = 1
	req["room_name"] = strings.Repeat("名", 50)
	req["description"] = strings.Repeat("字", 200)
	w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse(t, w).Success)
}

func TestUpsertRoom_MultiboxRefused(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", validRoomRequest())
	require.True(t, decodeResponse(t, w).Success)

	// 同IP换端口再开一间
	second := validRoomRequest()
	second["remote_port"] = 25566
	w = env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", second)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "禁止多开, 此IP已被占用", resp.Message)

	// 同IP同房间是心跳，放行
	w = env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", validRoomRequest())
	assert.True(t, decodeResponse(t, w).Success)
}

// gateProber 把探测调用拦在半路，等全部到齐后一起放行
type gateProber struct {
	arrived chan struct{}
	release chan struct{}
}

func (p *gateProber) Probe(ctx context.Context, host string, port int) (*probe.ServerStatus, error) {
	p.arrived <- struct{}{}
	<-p.release
	return &probe.ServerStatus{Version: "1.21.4", MOTD: "A Minecraft Server"}, nil
}

func TestUpsertRoom_ConcurrentRegistrationsSameIP(t *testing.T) {
	env := newTestEnv(t, nil)
	gate := &gateProber{arrived: make(chan struct{}, 2), release: make(chan struct{})}
	env.server.prober = gate

	second := validRoomRequest()
	second["remote_port"] = 25566

	// 同IP两个不同端口的注册同时越过入口检查，停在探测阶段
	results := make(chan ResponseData, 2)
	for _, body := range []map[string]interface{}{validRoomRequest(), second} {
		body := body
		go func() {
			w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", body)
			results <- decodeResponse(t, w)
		}()
	}
	<-gate.arrived
	<-gate.arrived
	close(gate.release)

	// 落库事务内复核防多开，只能有一个成功
	var ok, refused int
	for i := 0; i < 2; i++ {
		resp := <-results
		if resp.Success {
			ok++
		} else {
			refused++
			assert.Equal(t, "禁止多开, 此IP已被占用", resp.Message)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)

	rooms, err := env.store.GetPublicRooms(100)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "203.0.113.5", rooms[0].ClientIP)
}

func TestUpsertRoom_ModerationRefused(t *testing.T) {
	env := newTestEnv(t, nil)

	req := validRoomRequest()
	req["room_name"] = "有badword的房间"
	w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", req)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "房间名包含敏感词: badword", resp.Message)

	req = validRoomRequest()
	req["description"] = "简介含敏感词在里面"
	w = env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", req)
	resp = decodeResponse(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "房间简介包含敏感词: 敏感词", resp.Message)
}

func TestUpsertRoom_ProbeFailureRefused(t *testing.T) {
	env := newTestEnv(t, nil)
	env.prober.set(nil, errors.New("connection refused"))

	w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", validRoomRequest())
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "Validation failed", resp.Message)

	// 探测失败不落库
	room, err := env.store.GetRoom(models.RoomCode(25565, 1))
	require.NoError(t, err)
	assert.Nil(t, room)
}

func TestUpsertRoom_AuditDeletesViolatingMOTD(t *testing.T) {
	env := newTestEnv(t, nil)
	env.prober.set(&probe.ServerStatus{Version: "1.21.4", MOTD: "this MOTD has badword"}, nil)

	w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", validRoomRequest())
	require.True(t, decodeResponse(t, w).Success)

	// 后台审计复查 MOTD 后删房
	require.Eventually(t, func() bool {
		room, err := env.store.GetRoom(models.RoomCode(25565, 1))
		return err == nil && room == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDeleteRoom_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", validRoomRequest())
	require.True(t, decodeResponse(t, w).Success)

	body := map[string]interface{}{"remote_port": 25565, "node_id": 1}
	w = env.doAs(t, "203.0.113.5", "DELETE", "/api/lobby/rooms", body)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Room deleted", resp.Message)

	// 重复删除仍然成功
	w = env.doAs(t, "203.0.113.5", "DELETE", "/api/lobby/rooms", body)
	assert.True(t, decodeResponse(t, w).Success)
}

func TestListRooms_MasksHostIP(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", validRoomRequest())
	require.True(t, decodeResponse(t, w).Success)

	w = env.doAs(t, "198.51.100.9", "GET", "/api/lobby/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `"host_ip":"203.0.113.***"`)
	// 完整IP不得出现在任何字段
	assert.NotContains(t, body, "203.0.113.5")
}

func TestListRooms_OnlyPublic(t *testing.T) {
	env := newTestEnv(t, nil)

	private := validRoomRequest()
	private["is_public"] = false
	w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/rooms", private)
	require.True(t, decodeResponse(t, w).Success)

	w = env.doAs(t, "198.51.100.9", "GET", "/api/lobby/rooms", nil)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Data)
}

func TestHeartbeatAndOnlineCount(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.doAs(t, "203.0.113.5", "POST", "/api/lobby/heartbeat", nil)
	require.True(t, decodeResponse(t, w).Success)
	w = env.doAs(t, "203.0.113.6", "POST", "/api/lobby/heartbeat", nil)
	require.True(t, decodeResponse(t, w).Success)

	w = env.doAs(t, "198.51.100.9", "GET", "/api/lobby/online", nil)
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(2), data["count"])
}

func TestCheckAccess(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.doAs(t, "203.0.113.5", "GET", "/api/check_access", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", resp.Message)
}

func TestReportViolation_BlacklistsSelfOnly(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.doAs(t, "203.0.113.5", "POST", "/api/report_violation", nil)
	require.True(t, decodeResponse(t, w).Success)

	rules, err := env.store.ListBlacklistRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	// 规则只含上报方自身IP，时间戳在原因里
	assert.Equal(t, "203.0.113.5", rules[0].Rule)
	assert.Contains(t, rules[0].Reason, "非家庭宽带")

	// 上报后该IP立即被拒
	w = env.doAs(t, "203.0.113.5", "GET", "/api/check_access", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 其它IP不受影响
	w = env.doAs(t, "203.0.113.6", "GET", "/api/check_access", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
