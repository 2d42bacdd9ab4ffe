package security

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule_SingleIP(t *testing.T) {
	prefixes := ParseRule("1.2.3.4")
	require.Len(t, prefixes, 1)
	assert.Equal(t, "1.2.3.4/32", prefixes[0].String())

	prefixes = ParseRule("2001:db8::1")
	require.Len(t, prefixes, 1)
	assert.Equal(t, "2001:db8::1/128", prefixes[0].String())
}

func TestParseRule_CIDR(t *testing.T) {
	prefixes := ParseRule("10.0.0.0/8")
	require.Len(t, prefixes, 1)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())

	// 非对齐的 CIDR 规范化为网络地址
	prefixes = ParseRule("10.1.2.3/8")
	require.Len(t, prefixes, 1)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
}

func TestParseRule_Range(t *testing.T) {
	// 整段 /24 对齐的范围
	prefixes := ParseRule("192.168.1.0-192.168.1.255")
	require.Len(t, prefixes, 1)
	assert.Equal(t, "192.168.1.0/24", prefixes[0].String())

	// 单地址范围
	prefixes = ParseRule("1.2.3.4-1.2.3.4")
	require.Len(t, prefixes, 1)
	assert.Equal(t, "1.2.3.4/32", prefixes[0].String())

	// 非对齐范围拆成多个块，且整体覆盖恰好等于区间
	prefixes = ParseRule("10.0.0.1-10.0.0.6")
	require.NotEmpty(t, prefixes)
	for _, want := range []string{"10.0.0.1", "10.0.0.3", "10.0.0.6"} {
		assert.True(t, matchesPrefixes(prefixes, netip.MustParseAddr(want)), want)
	}
	assert.False(t, matchesPrefixes(prefixes, netip.MustParseAddr("10.0.0.0")))
	assert.False(t, matchesPrefixes(prefixes, netip.MustParseAddr("10.0.0.7")))
}

func TestParseRule_CommaSeparated(t *testing.T) {
	prefixes := ParseRule("1.2.3.4, 10.0.0.0/8 ,192.168.1.10-192.168.1.20")
	assert.True(t, matchesPrefixes(prefixes, netip.MustParseAddr("1.2.3.4")))
	assert.True(t, matchesPrefixes(prefixes, netip.MustParseAddr("10.99.0.1")))
	assert.True(t, matchesPrefixes(prefixes, netip.MustParseAddr("192.168.1.15")))
	assert.False(t, matchesPrefixes(prefixes, netip.MustParseAddr("192.168.1.21")))
}

func TestParseRule_InvalidPiecesSkipped(t *testing.T) {
	// 坏段跳过，好段保留
	prefixes := ParseRule("not-an-ip, 1.2.3.4, 300.1.1.1/8, 5.5.5.10-5.5.5.1")
	require.Len(t, prefixes, 1)
	assert.Equal(t, "1.2.3.4/32", prefixes[0].String())

	assert.Empty(t, ParseRule(""))
	assert.Empty(t, ParseRule("garbage"))
}

func TestSummarizeV4Range_Exact(t *testing.T) {
	// 枚举校验一个非对齐区间的每个地址
	prefixes := summarizeV4Range(
		netip.MustParseAddr("10.0.0.3"),
		netip.MustParseAddr("10.0.0.18"),
	)
	for i := 0; i < 32; i++ {
		addr := netip.AddrFrom4([4]byte{10, 0, 0, byte(i)})
		inRange := i >= 3 && i <= 18
		assert.Equal(t, inRange, matchesPrefixes(prefixes, addr), addr.String())
	}
}

func TestMatchesPrefixes(t *testing.T) {
	prefixes := ParseRule("10.0.0.0/8")
	assert.True(t, matchesPrefixes(prefixes, netip.MustParseAddr("10.1.2.3")))
	assert.False(t, matchesPrefixes(prefixes, netip.MustParseAddr("11.1.2.3")))

	// 4-in-6 映射地址按 IPv4 匹配
	assert.True(t, matchesPrefixes(prefixes, netip.MustParseAddr("::ffff:10.1.2.3")))
}
