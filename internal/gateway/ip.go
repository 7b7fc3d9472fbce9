package gateway

import (
	"net"
	"net/netip"
	"strings"
)

const fallbackIPv4 = "127.0.0.1"

// NormalizeIPv4 はクライアントIPをドット区切りIPv4に寄せる。
// IPv6ループバックとIPv4射影アドレスはIPv4に落とす。それ以外のIPv6はそのまま返す。
func NormalizeIPv4(raw string) string {
	s := strings.TrimSpace(raw)

	// X-Forwarded-For なら先頭
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return fallbackIPv4
	}
	addr = addr.Unmap()

	if addr.Is4() {
		return addr.String()
	}
	if addr.IsLoopback() {
		return fallbackIPv4
	}
	return addr.WithZone("").String()
}
