package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey string

const tenantKeyCtx contextKey = "tenant_id"

// requireTenant rejects requests without a tenant header and stores the
// tenant id in the request context.
func (a *API) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenantID == "" {
			respondWithError(w, http.StatusUnauthorized, "tenant_required", "missing "+TenantHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), tenantKeyCtx, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.adminToken == "" {
			respondWithError(w, http.StatusForbidden, "admin_disabled", "admin routes are disabled")
			return
		}
		got := r.Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.adminToken)) != 1 {
			respondWithError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TenantFromContext returns the tenant id set by the tenant middleware.
func TenantFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tenantKeyCtx).(string)
	return v, ok && v != ""
}

// clientIP returns the caller address. The socket peer is used unless it
// is a trusted proxy, in which case X-Forwarded-For is walked from the
// right and the first hop outside the trusted set wins. X-Real-IP is only
// consulted when a trusted peer sent no X-Forwarded-For.
func (a *API) clientIP(r *http.Request) string {
	peer := remoteAddr(r)
	if !peer.IsValid() {
		return r.RemoteAddr
	}
	if !a.isTrusted(peer) {
		return peer.String()
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				return peer.String()
			}
			hop = hop.Unmap()
			if !a.isTrusted(hop) {
				return hop.String()
			}
			peer = hop
		}
		return peer.String()
	}

	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}
	return peer.String()
}

func (a *API) callerKey(r *http.Request) string { return a.clientIP(r) }

func (a *API) isTrusted(ip netip.Addr) bool {
	if !ip.IsValid() {
		return false
	}
	for _, p := range a.trusted {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// remoteAddr parses the socket peer, dropping the port.
func remoteAddr(r *http.Request) netip.Addr {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	if ip, err := netip.ParseAddr(r.RemoteAddr); err == nil {
		return ip.Unmap()
	}
	return netip.Addr{}
}

func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		return p.Masked(), err
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	ip = ip.Unmap()
	return netip.PrefixFrom(ip, ip.BitLen()), nil
}

func tenantKey(r *http.Request) string {
	if t, ok := TenantFromContext(r.Context()); ok {
		return t
	}
	return r.Header.Get(TenantHeader)
}
