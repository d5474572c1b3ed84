package http

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionKey     = "token"
	sessionHeader  = "X-Session-Token"
	ctxSessionUser = "session_user"
)

// IdentityClaims is the assertion an upstream identity provider signs.
type IdentityClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

var errNoSubject = errors.New("identity token has no subject")

func verifyIdentity(raw string, secret []byte) (*IdentityClaims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("identity verification disabled: %w", domain.ErrInvalidSession)
	}
	token, err := jwt.ParseWithClaims(raw, &IdentityClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("identity token: %v: %w", err, domain.ErrInvalidSession)
	}
	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("%w: %w", errNoSubject, domain.ErrInvalidSession)
	}
	return claims, nil
}

// sessionToken reads the token from the header first, then the cookie session.
func sessionToken(c *gin.Context) string {
	if t := c.GetHeader(sessionHeader); t != "" {
		return t
	}
	if t, ok := sessions.Default(c).Get(sessionKey).(string); ok {
		return t
	}
	return ""
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return ""
}

func (h *handlers) requireSession(c *gin.Context) {
	uid, err := h.orch.Sessions.Resolve(c.Request.Context(), sessionToken(c))
	if err != nil {
		abortWith(c, "SESSION", err)
		return
	}
	c.Set(ctxSessionUser, uid)
	c.Next()
}

func sessionUser(c *gin.Context) domain.UserID {
	uid, _ := c.Get(ctxSessionUser)
	id, _ := uid.(domain.UserID)
	return id
}
