// Authentication for the admin API.

package admin

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/getmockd/hookd/pkg/httputil"
)

const (
	// APIKeyHeader is the HTTP header for API key authentication.
	APIKeyHeader = "X-API-Key"

	// APIKeyQueryParam is the query parameter fallback, used by browser
	// websocket clients that cannot set headers.
	APIKeyQueryParam = "api_key"

	// TokenIssuer is the iss claim of tokens minted by NewToken.
	TokenIssuer = "hookd"
)

// AuthConfig holds the admin API credentials. With neither APIKey nor
// JWTSecret set, authentication is disabled.
type AuthConfig struct {
	// APIKey is a static key accepted via X-API-Key, a bearer token or the
	// api_key query parameter.
	APIKey string

	// JWTSecret enables HS256 bearer tokens signed with this secret.
	JWTSecret string

	// AllowLocalhost lets loopback clients through without credentials.
	AllowLocalhost bool

	// ExemptPaths are URL paths that don't require authentication.
	// /health is always exempt.
	ExemptPaths []string
}

// authenticator implements the isAuthorized check guarding the API.
type authenticator struct {
	config AuthConfig
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	return &authenticator{config: cfg}
}

func (a *authenticator) enabled() bool {
	return a.config.APIKey != "" || a.config.JWTSecret != ""
}

func (a *authenticator) mode() string {
	switch {
	case a.config.APIKey != "" && a.config.JWTSecret != "":
		return "api-key+jwt"
	case a.config.APIKey != "":
		return "api-key"
	case a.config.JWTSecret != "":
		return "jwt"
	default:
		return "disabled"
	}
}

// isExempt checks if a path is exempt from authentication.
func (a *authenticator) isExempt(path string) bool {
	if path == "/health" {
		return true
	}
	for _, exempt := range a.config.ExemptPaths {
		if path == exempt || strings.HasPrefix(path, exempt+"/") {
			return true
		}
	}
	return false
}

// isAuthorized reports whether r may use the API.
func (a *authenticator) isAuthorized(r *http.Request) bool {
	if !a.enabled() || a.isExempt(r.URL.Path) {
		return true
	}
	if a.config.AllowLocalhost && isLocalhost(r) {
		return true
	}

	if key := r.Header.Get(APIKeyHeader); key != "" {
		return a.validKey(key)
	}
	if bearer := getBearerToken(r); bearer != "" {
		return a.validKey(bearer) || a.validToken(bearer)
	}
	if key := r.URL.Query().Get(APIKeyQueryParam); key != "" {
		return a.validKey(key)
	}
	return false
}

// validKey compares in constant time.
func (a *authenticator) validKey(key string) bool {
	if a.config.APIKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(a.config.APIKey)) == 1
}

func (a *authenticator) validToken(raw string) bool {
	if a.config.JWTSecret == "" {
		return false
	}
	_, err := ParseToken([]byte(a.config.JWTSecret), raw)
	return err == nil
}

// middleware rejects unauthorized requests with 401.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.isAuthorized(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="hookd"`)
			httputil.WriteError(w, http.StatusUnauthorized, "unauthorized",
				"Credentials required. Provide X-API-Key, Authorization: Bearer <key or token>, or api_key query parameter.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewToken mints an HS256 token for subject, valid for ttl.
func NewToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty signing secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates raw against secret and returns its claims.
func ParseToken(secret []byte, raw string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(TokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	return claims, nil
}

func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}

	parsedIP := net.ParseIP(host)
	if parsedIP == nil {
		return false
	}

	return parsedIP.IsLoopback()
}

// getBearerToken extracts the bearer token from Authorization header.
func getBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
