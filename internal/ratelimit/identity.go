package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"backend-go-chat-gateway/internal/logger"

	"github.com/golang-jwt/jwt/v5"
)

// Identity resolves the rate-limit identity for a request: the authenticated
// user from the context, then the subject of the bearer token without
// verifying it, then the client network address.
func Identity(r *http.Request) string {
	if userID, ok := r.Context().Value(logger.UserIDKey).(string); ok && userID != "" {
		return "user:" + userID
	}
	if sub := unverifiedSubject(r); sub != "" {
		return "token:" + sub
	}
	return "ip:" + clientIP(r)
}

func unverifiedSubject(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if raw == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
