package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/signal_bridge/pkg/logger"
)

// Claims are the JWT claims accepted by the API.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type subjectKey struct{}

// Subject returns the authenticated token subject carried by ctx.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// AuthMiddleware requires an HS256 bearer token on every path not skipped.
type AuthMiddleware struct {
	secret    []byte
	issuer    string
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an authentication middleware. An empty issuer
// accepts tokens from any issuer.
func NewAuthMiddleware(secret []byte, issuer string, log *logger.Logger, skipPaths []string) (*AuthMiddleware, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("auth: secret must be at least 32 bytes")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{secret: secret, issuer: issuer, log: log, skipPaths: skip}, nil
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearer(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		claims, err := m.validate(token)
		if err != nil {
			m.log.WithFields(map[string]interface{}{
				"path":   r.URL.Path,
				"method": r.Method,
			}).WithError(err).Warn("token rejected")
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearer(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (m *AuthMiddleware) validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// IssueToken signs a token for subject. Used by operators and tests.
func IssueToken(secret []byte, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
