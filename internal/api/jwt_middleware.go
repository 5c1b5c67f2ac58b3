// Bearer-JWT authentication for the reporting API's one write route
// (POST /api/v1/backtests). Every GET route stays unauthenticated: this
// engine never routes orders to a real exchange, so there is nothing on the
// read side worth gating.
//
// Tokens are HMAC-signed (HS256) with a secret configured via
// ENGINECORE_API_JWT_SECRET (wired by cmd/api). A request without a valid
// `Authorization: Bearer <token>` header is rejected with 401.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Claims is the minimal JWT claim set this API recognizes: a subject
// (operator identity) plus the standard registered claims for expiry.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// IssueToken mints a signed token for subject, valid for ttl. Used by
// operator tooling, not by the HTTP server itself.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// RequireJWT returns a Gin middleware that rejects requests without a valid
// bearer token signed with secret. An empty secret means the server was
// started without a configured signing key; the middleware then rejects
// every request, since running the write route unauthenticated is not an
// option.
func RequireJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "write route disabled: no JWT secret configured"})
			c.Abort()
			return
		}

		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}
		raw := strings.TrimPrefix(auth, "Bearer ")

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("api: rejected invalid bearer token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		if sub, err := token.Claims.GetSubject(); err == nil {
			c.Set("subject", sub)
		}
		c.Next()
	}
}
