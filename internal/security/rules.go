package security

import (
	"math/bits"
	"net/netip"
	"strings"
)

// ParseRule 解析规则串为 CIDR 前缀集合
//
// 规则串按逗号分段，每段可以是单个地址、CIDR 或 "起-止" 范围（含端点）。
// 范围通过地址区间归并展开为最少的 CIDR 块。无法解析的段静默跳过。
func ParseRule(rule string) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, piece := range strings.Split(rule, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		prefixes = append(prefixes, parsePiece(piece)...)
	}
	return prefixes
}

func parsePiece(piece string) []netip.Prefix {
	// CIDR
	if strings.Contains(piece, "/") {
		prefix, err := netip.ParsePrefix(piece)
		if err != nil {
			return nil
		}
		return []netip.Prefix{prefix.Masked()}
	}

	// 起-止范围（仅 IPv4；IPv6 文本自身含冒号不含连字符歧义小，但范围暂不支持）
	if idx := strings.Index(piece, "-"); idx > 0 {
		start, err1 := netip.ParseAddr(strings.TrimSpace(piece[:idx]))
		end, err2 := netip.ParseAddr(strings.TrimSpace(piece[idx+1:]))
		if err1 != nil || err2 != nil || !start.Is4() || !end.Is4() {
			return nil
		}
		return summarizeV4Range(start, end)
	}

	// 单个地址
	addr, err := netip.ParseAddr(piece)
	if err != nil {
		return nil
	}
	return []netip.Prefix{netip.PrefixFrom(addr, addr.BitLen())}
}

// summarizeV4Range 将闭区间 [start, end] 归并为最少的 CIDR 块
func summarizeV4Range(start, end netip.Addr) []netip.Prefix {
	lo := v4ToUint32(start)
	hi := v4ToUint32(end)
	if lo > hi {
		return nil
	}

	var out []netip.Prefix
	for {
		// start 对齐约束下的最大块
		maxBits := uint32(bits.TrailingZeros32(lo))
		if lo == 0 {
			maxBits = 32
		}
		// 剩余地址数量约束
		remaining := uint64(hi) - uint64(lo) + 1
		k := uint32(0)
		for k < maxBits && uint64(1)<<(k+1) <= remaining {
			k++
		}

		out = append(out, netip.PrefixFrom(uint32ToV4(lo), int(32-k)))

		next := uint64(lo) + uint64(1)<<k
		if next > uint64(hi) {
			return out
		}
		lo = uint32(next)
	}
}

func v4ToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func uint32ToV4(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func matchesPrefixes(prefixes []netip.Prefix, addr netip.Addr) bool {
	// 4-in-6 地址统一按 IPv4 匹配
	addr = addr.Unmap()
	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
