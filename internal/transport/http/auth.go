package httptransport

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"glass-server-go/internal/platform/config"
)

const subjectKey = "auth.subject"

// Claims identify the holder of an API token.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies API tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns nil when JWT auth is disabled.
func NewTokenIssuer(cfg config.JWTConfig) (*TokenIssuer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	ttl := cfg.Expiry
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for subject.
func (t *TokenIssuer) Issue(subject string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses raw and returns its claims.
func (t *TokenIssuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// bearer extracts the credential from the Authorization header or the
// token query parameter. EventSource clients cannot set headers.
func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return c.Query("token")
}

// AuthMiddleware accepts either the static server token or a JWT signed by
// issuer. It returns nil when neither is configured.
func AuthMiddleware(serverToken string, issuer *TokenIssuer) gin.HandlerFunc {
	if serverToken == "" && issuer == nil {
		return nil
	}
	return func(c *gin.Context) {
		cred := bearer(c)
		if cred == "" {
			RespondError(c, http.StatusUnauthorized, "missing credentials", nil)
			c.Abort()
			return
		}
		if serverToken != "" && subtle.ConstantTimeCompare([]byte(cred), []byte(serverToken)) == 1 {
			c.Set(subjectKey, "server-token")
			c.Next()
			return
		}
		if issuer != nil {
			if claims, err := issuer.Verify(cred); err == nil {
				c.Set(subjectKey, claims.Subject)
				c.Next()
				return
			}
		}
		RespondError(c, http.StatusUnauthorized, "invalid credentials", nil)
		c.Abort()
	}
}

type tokenRequest struct {
	Token   string `json:"token"`
	Subject string `json:"subject"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleToken exchanges the server token for a JWT.
func handleToken(serverToken string, issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if issuer == nil {
			RespondError(c, http.StatusNotFound, "token issuing is disabled", nil)
			return
		}
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid request body", nil)
			return
		}
		if serverToken != "" && subtle.ConstantTimeCompare([]byte(req.Token), []byte(serverToken)) != 1 {
			RespondError(c, http.StatusUnauthorized, "invalid server token", nil)
			return
		}
		subject := req.Subject
		if subject == "" {
			subject = "viewer"
		}
		signed, expires, err := issuer.Issue(subject)
		if err != nil {
			RespondErr(c, err)
			return
		}
		RespondSuccess(c, http.StatusOK, tokenResponse{Token: signed, ExpiresAt: expires}, "")
	}
}
