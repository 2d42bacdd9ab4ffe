// Package probe 实现 Minecraft Java 版 server-list-ping 握手
// 用于房间注册校验和周期性的版本/MOTD 刷新
package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// ServerStatus 一次探测的结果
type ServerStatus struct {
	Version string // version.name
	MOTD    string // description，聊天组件已展平为纯文本
}

const (
	packetIDHandshake     = 0x00
	packetIDStatusRequest = 0x00

	// 状态查询约定的协议号：-1 表示客户端不关心版本
	handshakeProtocolVersion = -1

	// next-state = 1 进入 status 流程
	handshakeNextStateStatus = 1

	// 响应 JSON 的长度上限，防御异常服务器
	maxStatusPayload = 1 << 20
)

// Ping 对 (host, port) 执行一次完整的 server-list-ping
// timeout 同时约束连接建立和整个读写过程
func Ping(ctx context.Context, host string, port int, timeout time.Duration) (*ServerStatus, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	// 握手包 + 状态请求包
	if err := writePacket(conn, buildHandshake(host, port)); err != nil {
		return nil, fmt.Errorf("handshake write failed: %w", err)
	}
	if err := writePacket(conn, []byte{packetIDStatusRequest}); err != nil {
		return nil, fmt.Errorf("status request write failed: %w", err)
	}

	payload, err := readStatusResponse(conn)
	if err != nil {
		return nil, err
	}
	return parseStatus(payload)
}

// buildHandshake 构造握手包体（不含长度前缀）
func buildHandshake(host string, port int) []byte {
	var buf bytes.Buffer
	buf.Write(encodeVarInt(packetIDHandshake))
	buf.Write(encodeVarInt(handshakeProtocolVersion))
	buf.Write(encodeVarInt(len(host)))
	buf.WriteString(host)
	var portBytes [2]byte
	binary.BigEndian.PutUint16(portBytes[:], uint16(port))
	buf.Write(portBytes[:])
	buf.Write(encodeVarInt(handshakeNextStateStatus))
	return buf.Bytes()
}

// writePacket 写入带 VarInt 长度前缀的数据包
func writePacket(w io.Writer, payload []byte) error {
	if _, err := w.Write(encodeVarInt(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readStatusResponse 读取状态响应包，返回其中的 JSON 负载
func readStatusResponse(r io.Reader) ([]byte, error) {
	br := &byteReader{r: r}

	packetLen, err := readVarInt(br)
	if err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if packetLen <= 0 || packetLen > maxStatusPayload {
		return nil, fmt.Errorf("malformed response: bad packet length %d", packetLen)
	}

	packetID, err := readVarInt(br)
	if err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if packetID != packetIDStatusRequest {
		return nil, fmt.Errorf("malformed response: unexpected packet id %d", packetID)
	}

	jsonLen, err := readVarInt(br)
	if err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if jsonLen <= 0 || jsonLen > maxStatusPayload {
		return nil, fmt.Errorf("malformed response: bad payload length %d", jsonLen)
	}

	payload := make([]byte, jsonLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	return payload, nil
}

// statusPayload 状态响应的 JSON 结构
// description 可能是字符串，也可能是聊天组件树
type statusPayload struct {
	Version struct {
		Name string `json:"name"`
	} `json:"version"`
	Description json.RawMessage `json:"description"`
}

// parseStatus 解析状态 JSON
func parseStatus(payload []byte) (*ServerStatus, error) {
	var status statusPayload
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("non-JSON status payload: %w", err)
	}
	return &ServerStatus{
		Version: status.Version.Name,
		MOTD:    flattenDescription(status.Description),
	}, nil
}

// flattenDescription 将 description 展平为纯文本
// 支持纯字符串和 {text, extra: [...]} 形式的聊天组件树
func flattenDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var component struct {
		Text  string            `json:"text"`
		Extra []json.RawMessage `json:"extra"`
	}
	if err := json.Unmarshal(raw, &component); err != nil {
		return ""
	}

	var buf bytes.Buffer
	buf.WriteString(component.Text)
	for _, extra := range component.Extra {
		buf.WriteString(flattenDescription(extra))
	}
	return buf.String()
}

// ============================================================================
// VarInt 编解码（Minecraft 协议：7位分组，低位在前，最多5字节）
// ============================================================================

// encodeVarInt 编码 VarInt，负数按32位补码处理
func encodeVarInt(v int) []byte {
	u := uint32(int32(v))
	var out []byte
	for {
		b := byte(u & 0x7F)
		u >>= 7
		if u != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if u == 0 {
			return out
		}
	}
}

type byteReader struct {
	r io.Reader
}

func (b *byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// readVarInt 解码 VarInt，超过5字节视为非法
func readVarInt(r io.ByteReader) (int, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int(int32(result)), nil
		}
	}
	return 0, fmt.Errorf("varint too long")
}
