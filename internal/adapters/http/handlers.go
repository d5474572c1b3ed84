package http

import (
	"net/http"

	"github.com/dkeye/chorus/internal/app/orch"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	orch      *orch.Orchestrator
	jwtSecret []byte
}

type createSessionRequest struct {
	IdentityToken string `json:"identityToken"`
}

type createSessionResponse struct {
	SessionToken string       `json:"sessionToken"`
	User         *domain.User `json:"user"`
}

type createServerRequest struct {
	Name       string                  `json:"name" binding:"required"`
	Visibility domain.ServerVisibility `json:"visibility"`
}

func abortWith(c *gin.Context, part string, err error) {
	de := domain.AsError(err, part)
	c.AbortWithStatusJSON(de.StatusCode, gin.H{"error": de})
}

// createSession trades a verified identity assertion for a session token.
func (h *handlers) createSession(c *gin.Context) {
	var req createSessionRequest
	_ = c.ShouldBindJSON(&req)
	raw := req.IdentityToken
	if raw == "" {
		raw = bearer(c)
	}
	claims, err := verifyIdentity(raw, h.jwtSecret)
	if err != nil {
		abortWith(c, "CREATESESSION", err)
		return
	}
	ctx := c.Request.Context()
	uid := domain.UserID(claims.Subject)
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	user, created, err := h.orch.Users.Ensure(ctx, uid, name)
	if err != nil {
		abortWith(c, "CREATESESSION", err)
		return
	}
	token, err := h.orch.Sessions.Create(ctx, uid)
	if err != nil {
		abortWith(c, "CREATESESSION", err)
		return
	}
	s := sessions.Default(c)
	s.Set(sessionKey, token)
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
	}
	log.Info().Str("module", "adapters.http").Str("user", string(uid)).Bool("new", created).Msg("session issued")
	c.JSON(http.StatusCreated, createSessionResponse{SessionToken: token, User: user})
}

func (h *handlers) deleteSession(c *gin.Context) {
	if err := h.orch.EndSession(c.Request.Context(), sessionToken(c)); err != nil {
		abortWith(c, "DELETESESSION", err)
		return
	}
	s := sessions.Default(c)
	s.Clear()
	_ = s.Save()
	c.Status(http.StatusNoContent)
}

func (h *handlers) createServer(c *gin.Context) {
	var req createServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.AsError(domain.Invalid("DATA_INVALID", "missing or invalid name"), "CREATESERVER")})
		return
	}
	room, err := h.orch.Rooms.CreateServer(c.Request.Context(), sessionUser(c), req.Name, req.Visibility)
	if err != nil {
		abortWith(c, "CREATESERVER", err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *handlers) getServer(c *gin.Context) {
	room, err := h.orch.Rooms.Room(c.Request.Context(), domain.ServerID(c.Param("id")))
	if err != nil {
		abortWith(c, "GETSERVER", err)
		return
	}
	c.JSON(http.StatusOK, room)
}
