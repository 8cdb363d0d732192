package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"backend-go-chat-gateway/internal/logger"

	"github.com/golang-jwt/jwt/v5"
)

// DevUserHeader carries the user id when no JWT secret is configured.
const DevUserHeader = "X-User-ID"

var (
	errNoCredentials = errors.New("no credentials")
	errInvalidToken  = errors.New("invalid token")
)

// Authenticator resolves a request to a user id. With an empty secret it
// runs in dev mode and trusts DevUserHeader.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(strings.TrimSpace(secret))}
}

// DevMode reports whether tokens are not verified.
func (a *Authenticator) DevMode() bool { return len(a.secret) == 0 }

// Authenticate returns the verified user id for r.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if a.DevMode() {
		if id := strings.TrimSpace(r.Header.Get(DevUserHeader)); id != "" {
			return id, nil
		}
		return "", errNoCredentials
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", errNoCredentials
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", errInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

// IssueToken signs an HS256 token for userID.
func (a *Authenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	if a.DevMode() {
		return "", errors.New("token issuing requires a secret")
	}
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// authMiddleware puts the authenticated user id into the request context when
// there is one. It never rejects; requireUser does that after rate limiting.
func authMiddleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := a.Authenticate(r)
			if err == nil {
				ctx := context.WithValue(r.Context(), logger.UserIDKey, userID)
				r = r.WithContext(ctx)
			} else if errors.Is(err, errInvalidToken) {
				logger.NewContextLogger(r.Context()).Warn("auth_failed", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userFrom(r.Context()) == "" {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "缺少或无效的登录凭证")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(logger.UserIDKey).(string)
	return id
}
