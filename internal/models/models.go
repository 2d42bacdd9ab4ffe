// Package models 定义大厅核心的数据模型
// 所有实体由 Store 独占持有，处理器之间只传递值拷贝
package models

import "fmt"

// 版本哨兵值：客户端在探测前上报的占位版本
// 服务端视为"未知"，不允许用它覆盖探测到的真实版本
var sentinelVersions = map[string]struct{}{
	"未知版本": {},
	"1.20.1": {},
	"":       {},
}

// IsSentinelVersion 判断版本字符串是否为哨兵值
func IsSentinelVersion(v string) bool {
	_, ok := sentinelVersions[v]
	return ok
}

// Room 已注册的游戏房间
type Room struct {
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
	ClientIP     string `json:"-"`
	UpdatedAt    int64  `json:"updated_at"`
}

// RoomCode 生成房间唯一标识："{remote_port}_{node_id}"
func RoomCode(remotePort, nodeID int) string {
	return fmt.Sprintf("%d_%d", remotePort, nodeID)
}

// ActiveTunnel 处于校验监控中的隧道
// 与房间是否发布无关，复合键为 (server_addr, remote_port)
type ActiveTunnel struct {
	ServerAddr    string `json:"server_addr"`
	RemotePort    int    `json:"remote_port"`
	ClientIP      string `json:"client_ip"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}

// OnlinePresence 应用在线用户
type OnlinePresence struct {
	ClientIP      string `json:"client_ip"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}

// BanRecord 自动封禁记录，按 IP 唯一，到期自动失效
type BanRecord struct {
	IP          string `json:"ip"`
	BannedUntil int64  `json:"banned_until"`
	Reason      string `json:"reason"`
	CreatedAt   int64  `json:"created_at"`
}

// BlacklistRule 管理员黑名单规则
// 规则串可以是单个IP、CIDR、起止范围或逗号分隔的组合
type BlacklistRule struct {
	Rule      string `json:"rule"`
	Reason    string `json:"reason"`
	CreatedAt int64  `json:"created_at"`
}

// WhitelistRule 管理员白名单规则，expires_at 为 0 表示永久
type WhitelistRule struct {
	Rule        string `json:"rule"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

// AccessLogEntry 访问日志条目
type AccessLogEntry struct {
	ClientIP  string `json:"client_ip"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}
