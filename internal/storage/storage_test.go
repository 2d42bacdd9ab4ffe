package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftlobby-core/internal/core/errors"
	"craftlobby-core/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		Path:                 filepath.Join(t.TempDir(), "lobby.db"),
		AccessLogDedupWindow: 300 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRoom(port, node int) *models.Room {
	return &models.Room{
		FullRoomCode: models.RoomCode(port, node),
		RemotePort:   port,
		NodeID:       node,
		RoomName:     "测试房间",
		GameVersion:  "未知版本",
		PlayerCount:  1,
		MaxPlayers:   8,
		Description:  "",
		IsPublic:     true,
		HostPlayer:   "Steve",
		ServerAddr:   "node1.example.com",
	}
}

func TestStore_UpsertRoom_VersionPreservation(t *testing.T) {
	store := newTestStore(t)

	// 首次注册带哨兵版本
	room := testRoom(25565, 1)
	require.NoError(t, store.UpsertRoom(room, "1.2.3.4"))

	got, err := store.GetRoom(room.FullRoomCode)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "未知版本", got.GameVersion)

	// 探测循环写入真实版本
	require.NoError(t, store.UpdateRoomStatus(room.FullRoomCode, "1.21.4", "A Minecraft Server"))

	// 后续心跳仍带哨兵版本，不得覆盖真实版本
	room.GameVersion = "1.20.1"
	require.NoError(t, store.UpsertRoom(room, "1.2.3.4"))

	got, err = store.GetRoom(room.FullRoomCode)
	require.NoError(t, err)
	assert.Equal(t, "1.21.4", got.GameVersion)

	// 心跳带另一个真实版本也不覆盖，真实版本只认探测结果
	room.GameVersion = "1.19.2"
	require.NoError(t, store.UpsertRoom(room, "1.2.3.4"))

	got, err = store.GetRoom(room.FullRoomCode)
	require.NoError(t, err)
	assert.Equal(t, "1.21.4", got.GameVersion)
}

func TestStore_UpsertRoom_DescriptionPreservation(t *testing.T) {
	store := newTestStore(t)

	room := testRoom(25565, 1)
	room.Description = "第一版简介"
	require.NoError(t, store.UpsertRoom(room, "1.2.3.4"))

	// 心跳给空简介，保留已存储的
	room.Description = ""
	require.NoError(t, store.UpsertRoom(room, "1.2.3.4"))

	got, err := store.GetRoom(room.FullRoomCode)
	require.NoError(t, err)
	assert.Equal(t, "第一版简介", got.Description)

	// 心跳给新简介，已存储的非空仍保留
	room.Description = "第二版简介"
	require.NoError(t, store.UpsertRoom(room, "1.2.3.4"))

	got, err = store.GetRoom(room.FullRoomCode)
	require.NoError(t, err)
	assert.Equal(t, "第一版简介", got.Description)
}

func TestStore_UpsertRoom_OverwritesMutableFields(t *testing.T) {
	store := newTestStore(t)

	room := testRoom(25565, 1)
	require.NoError(t, store.UpsertRoom(room, "1.2.3.4"))

	room.PlayerCount = 5
	room.RoomName = "改名后的房间"
	require.NoError(t, store.UpsertRoom(room, "5.6.7.8"))

	got, err := store.GetRoom(room.FullRoomCode)
	require.NoError(t, err)
	assert.Equal(t, 5, got.PlayerCount)
	assert.Equal(t, "改名后的房间", got.RoomName)
	assert.Equal(t, "5.6.7.8", got.ClientIP)
}

func TestStore_CheckIPConflict(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertRoom(testRoom(25565, 1), "1.2.3.4"))

	// 同IP同房间不算冲突（心跳场景）
	conflict, err := store.CheckIPConflict("1.2.3.4", models.RoomCode(25565, 1))
	require.NoError(t, err)
	assert.False(t, conflict)

	// 同IP开第二个房间算冲突
	conflict, err = store.CheckIPConflict("1.2.3.4", models.RoomCode(25566, 1))
	require.NoError(t, err)
	assert.True(t, conflict)

	// 另一个IP不冲突
	conflict, err = store.CheckIPConflict("9.9.9.9", models.RoomCode(25566, 1))
	require.NoError(t, err)
	assert.False(t, conflict)
}

func TestStore_UpsertRoom_RejectsSecondRoomFromSameIP(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertRoom(testRoom(25565, 1), "1.2.3.4"))

	// 同IP换房间码落库被拒，事务内复核防多开
	err := store.UpsertRoom(testRoom(25566, 1), "1.2.3.4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	// 被拒的房间未落库
	got, err := store.GetRoom(models.RoomCode(25566, 1))
	require.NoError(t, err)
	assert.Nil(t, got)

	// 心跳刷新自己的房间不受影响
	require.NoError(t, store.UpsertRoom(testRoom(25565, 1), "1.2.3.4"))
}

func TestStore_DeleteRoom_Idempotent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertRoom(testRoom(25565, 1), "1.2.3.4"))
	require.NoError(t, store.DeleteRoom(25565, 1))
	// 再删一次不报错
	require.NoError(t, store.DeleteRoom(25565, 1))

	got, err := store.GetRoom(models.RoomCode(25565, 1))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_GetPublicRooms_FiltersPrivate(t *testing.T) {
	store := newTestStore(t)

	public := testRoom(25565, 1)
	private := testRoom(25566, 1)
	private.IsPublic = false
	require.NoError(t, store.UpsertRoom(public, "1.2.3.4"))
	require.NoError(t, store.UpsertRoom(private, "5.6.7.8"))

	rooms, err := store.GetPublicRooms(100)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, public.FullRoomCode, rooms[0].FullRoomCode)

	// 全量快照两个都有
	all, err := store.ListRooms(500)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_CleanupStaleRooms(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	store.now = func() time.Time { return base }
	require.NoError(t, store.UpsertRoom(testRoom(25565, 1), "1.2.3.4"))

	store.now = func() time.Time { return base.Add(5 * time.Second) }
	require.NoError(t, store.UpsertRoom(testRoom(25566, 1), "5.6.7.8"))

	// 20秒后，TTL 10秒，两个房间都过期
	store.now = func() time.Time { return base.Add(20 * time.Second) }
	deleted, err := store.CleanupStaleRooms(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	// 只有第一个房间过期的时间点
	store.now = func() time.Time { return base }
	require.NoError(t, store.UpsertRoom(testRoom(25565, 1), "1.2.3.4"))
	store.now = func() time.Time { return base.Add(8 * time.Second) }
	require.NoError(t, store.UpsertRoom(testRoom(25566, 1), "5.6.7.8"))

	store.now = func() time.Time { return base.Add(12 * time.Second) }
	deleted, err = store.CleanupStaleRooms(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestStore_TunnelLifecycle(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	store.now = func() time.Time { return base }
	require.NoError(t, store.UpsertTunnel("node1.example.com", 25565, "1.2.3.4"))
	require.NoError(t, store.UpsertTunnel("node1.example.com", 25566, "5.6.7.8"))

	tunnels, err := store.GetActiveTunnels()
	require.NoError(t, err)
	assert.Len(t, tunnels, 2)

	// 只有一条在40秒内有心跳
	store.now = func() time.Time { return base.Add(30 * time.Second) }
	require.NoError(t, store.UpsertTunnel("node1.example.com", 25565, "1.2.3.4"))

	store.now = func() time.Time { return base.Add(50 * time.Second) }
	deleted, err := store.CleanupStaleTunnels(40 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	tunnels, err = store.GetActiveTunnels()
	require.NoError(t, err)
	require.Len(t, tunnels, 1)
	assert.Equal(t, 25565, tunnels[0].RemotePort)
}

func TestStore_OnlinePresence(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	store.now = func() time.Time { return base }
	require.NoError(t, store.UpdateOnlineHeartbeat("1.2.3.4"))
	require.NoError(t, store.UpdateOnlineHeartbeat("5.6.7.8"))

	count, err := store.GetOnlineCount(15 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// 同一IP重复心跳不增加计数
	require.NoError(t, store.UpdateOnlineHeartbeat("1.2.3.4"))
	count, err = store.GetOnlineCount(15 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// 20秒后全部超时
	store.now = func() time.Time { return base.Add(20 * time.Second) }
	count, err = store.GetOnlineCount(15 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	deleted, err := store.CleanupOfflineUsers(15 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestStore_AutoBanExpiry(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	store.now = func() time.Time { return base }
	require.NoError(t, store.BanIP("1.2.3.4", 10*time.Minute, "rate limit"))

	banned, err := store.IsIPBanned("1.2.3.4")
	require.NoError(t, err)
	assert.True(t, banned)

	// 未封禁的IP
	banned, err = store.IsIPBanned("9.9.9.9")
	require.NoError(t, err)
	assert.False(t, banned)

	// 到期后自动失效且记录被清除
	store.now = func() time.Time { return base.Add(11 * time.Minute) }
	banned, err = store.IsIPBanned("1.2.3.4")
	require.NoError(t, err)
	assert.False(t, banned)

	bans, err := store.ListAutoBans()
	require.NoError(t, err)
	assert.Empty(t, bans)
}

func TestStore_BanIP_RepeatTakesLatest(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	store.now = func() time.Time { return base }
	require.NoError(t, store.BanIP("1.2.3.4", 1*time.Minute, "first"))
	require.NoError(t, store.BanIP("1.2.3.4", 30*time.Minute, "second"))

	store.now = func() time.Time { return base.Add(5 * time.Minute) }
	banned, err := store.IsIPBanned("1.2.3.4")
	require.NoError(t, err)
	assert.True(t, banned)

	bans, err := store.ListAutoBans()
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, "second", bans[0].Reason)
}

func TestStore_BlacklistRules(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AddBlacklistRule("1.2.3.0/24", "abuse"))
	require.NoError(t, store.AddBlacklistRule("5.6.7.8", "spam"))

	rules, err := store.ListBlacklistRules()
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	require.NoError(t, store.RemoveBlacklistRule("5.6.7.8"))
	// 删除不存在的规则也不报错
	require.NoError(t, store.RemoveBlacklistRule("no.such.rule"))

	rules, err = store.ListBlacklistRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "1.2.3.0/24", rules[0].Rule)
}

func TestStore_WhitelistRules_Expiry(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	store.now = func() time.Time { return base }

	// 永久规则 expires_at 为 0
	require.NoError(t, store.AddWhitelistRule("10.0.0.1", "forever", 0))
	// 限时规则
	require.NoError(t, store.AddWhitelistRule("10.0.0.2", "temp", 1*time.Hour))

	rules, err := store.ListWhitelistRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)

	byRule := map[string]models.WhitelistRule{}
	for _, r := range rules {
		byRule[r.Rule] = r
	}
	assert.Equal(t, int64(0), byRule["10.0.0.1"].ExpiresAt)
	assert.Equal(t, base.Add(1*time.Hour).Unix(), byRule["10.0.0.2"].ExpiresAt)
}

func TestStore_AccessLogDedup(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	store.now = func() time.Time { return base }

	require.NoError(t, store.LogAccess("1.2.3.4", "/api/lobby/rooms"))
	// 窗口内同 (ip, action) 去重
	require.NoError(t, store.LogAccess("1.2.3.4", "/api/lobby/rooms"))
	// 不同 action 单独记录
	require.NoError(t, store.LogAccess("1.2.3.4", "/api/lobby/online"))

	entries, err := store.ListAccessLog(100)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// 窗口过后再次记录
	store.now = func() time.Time { return base.Add(301 * time.Second) }
	require.NoError(t, store.LogAccess("1.2.3.4", "/api/lobby/rooms"))

	entries, err = store.ListAccessLog(100)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestStore_GetStats(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertRoom(testRoom(25565, 1), "1.2.3.4"))
	require.NoError(t, store.UpsertTunnel("node1.example.com", 25565, "1.2.3.4"))
	require.NoError(t, store.AddBlacklistRule("5.6.7.8", "spam"))

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 1, stats.ActiveTunnels)
	assert.Equal(t, 1, stats.BlacklistRules)
	assert.Equal(t, 0, stats.AutoBans)
}
