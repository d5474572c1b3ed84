package http

import (
	"context"
	"net/http"

	"github.com/dkeye/chorus/internal/adapters/signal"
	"github.com/dkeye/chorus/internal/app/orch"
	"github.com/dkeye/chorus/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Auth.CookieSecret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(cfg.Session.CookieName, store))

	h := &handlers{orch: o, jwtSecret: []byte(cfg.Auth.JWTSecret)}
	ctrl := signal.NewSignalWSController(o, cfg)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/sessions", h.createSession)
	api.DELETE("/sessions", h.deleteSession)

	authed := api.Group("", h.requireSession)
	authed.POST("/servers", h.createServer)
	api.GET("/servers/:id", h.getServer)

	api.GET("/ws", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
