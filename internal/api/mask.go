package api

import "strings"

// MaskIP 脱敏房主IP
// IPv4 将末段替换为 ***；其它格式将文本后半段整体替换为 ***
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}

	if parts := strings.Split(ip, "."); len(parts) == 4 && !strings.Contains(ip, ":") {
		return strings.Join(parts[:3], ".") + ".***"
	}

	runes := []rune(ip)
	return string(runes[:len(runes)/2]) + "***"
}
