package rpc

import (
	"net"
	"net/http"
	"net/netip"
	"slices"
	"strings"

	"github.com/Klingon-tech/walletscan/config"
)

// access is the per-request gate: an IP allow-list and CORS origins. The
// zero value admits everyone and sends no CORS headers.
type access struct {
	allowed []netip.Prefix
	origins []string
}

func newAccess(cfg config.RPCConfig) access {
	return access{allowed: parseAllowedIPs(cfg.AllowedIPs), origins: cfg.CORSOrigins}
}

// parseAllowedIPs turns IP and CIDR entries into prefixes. A bare address
// becomes a single-host prefix; unparsable entries are skipped.
func parseAllowedIPs(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

func (a access) admits(remote string) bool {
	if len(a.allowed) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return false
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	return slices.ContainsFunc(a.allowed, func(p netip.Prefix) bool { return p.Contains(ip) })
}

// wrap gates next on the allow-list. With cors set it also answers
// preflight requests and adds CORS headers for configured origins.
func (a access) wrap(next http.Handler, cors bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.admits(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if cors {
			a.setCORS(w, r.Header.Get("Origin"))
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a access) setCORS(w http.ResponseWriter, origin string) {
	if origin == "" || len(a.origins) == 0 {
		return
	}
	switch {
	case slices.Contains(a.origins, "*"):
		w.Header().Set("Access-Control-Allow-Origin", "*")
	case slices.Contains(a.origins, origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	default:
		return
	}
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
