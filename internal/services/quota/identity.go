package quota

import (
	"net/http"
	"strings"
)

type Kind string

const (
	KindUser      Kind = "user"
	KindAnonymous Kind = "anonymous"
)

// Identity is the quota subject: either an authenticated user or an
// anonymous caller tracked by client IP.
type Identity struct {
	Kind   Kind
	UserID int64
	Email  string
	IP     string
}

func UserIdentity(userID int64, email string) Identity {
	return Identity{Kind: KindUser, UserID: userID, Email: email}
}

func AnonymousIdentity(ip string) Identity {
	return Identity{Kind: KindAnonymous, IP: ip}
}

// ClientIP resolves the caller address behind the reverse proxy: first
// X-Forwarded-For hop, then X-Real-IP, then "unknown". The literal
// "unknown" still buckets such callers under a single shared counter.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	return "unknown"
}
