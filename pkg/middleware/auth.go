package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iammrherb/labdabbler/pkg/config"
	"github.com/iammrherb/labdabbler/pkg/logging"
)

type contextKey string

// SubjectContextKey carries the authenticated subject through the request
// context.
const SubjectContextKey contextKey = "subject"

// Claims is the JWT payload issued and accepted by the API.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer tokens on incoming requests.
type Authenticator struct {
	cfg    *config.AuthenticationConfig
	logger *logging.Logger
}

// NewAuthenticator builds an authenticator from the security config.
func NewAuthenticator(cfg *config.AuthenticationConfig) *Authenticator {
	return &Authenticator{
		cfg:    cfg,
		logger: logging.WithComponent("middleware.auth"),
	}
}

// IssueToken mints a signed token for a subject, for use by the CLI and
// automation.
func (a *Authenticator) IssueToken(subject string, roles []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Subject: subject,
		Roles:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.JWTConfig.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.JWTConfig.ExpiryDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.cfg.JWTConfig.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// validate parses and verifies a bearer token, returning its claims.
func (a *Authenticator) validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.cfg.JWTConfig.SecretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if a.cfg.JWTConfig.Issuer != "" && claims.Issuer != a.cfg.JWTConfig.Issuer {
		return nil, fmt.Errorf("invalid token issuer")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token. When
// authentication is disabled the handler chain runs untouched.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.cfg.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, `{"error":"malformed authorization header"}`, http.StatusUnauthorized)
			return
		}

		claims, err := a.validate(tokenString)
		if err != nil {
			a.logger.WithError(err).Debug("token rejected")
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), SubjectContextKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectContextKey).(string)
	return subject, ok
}
