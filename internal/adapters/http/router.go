package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/solvspace/voiceroom/internal/adapters/feed"
	"github.com/solvspace/voiceroom/internal/config"
	"github.com/solvspace/voiceroom/internal/presence"
	"github.com/solvspace/voiceroom/internal/token"
)

// ClientTokenMiddleware pins a stable anonymous identity to the
// browser session via the "ct" cookie. That identity is the user_id of
// every membership row this client writes.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, _ := c.Cookie("ct")
		if tok == "" {
			tok = uuid.NewString()
			c.SetCookie("ct", tok, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", tok)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, sync *presence.Synchronizer, issuer *token.Issuer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Token.APISecret))
	r.Use(sessions.Sessions("VoiceRoomSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &Handlers{Sync: sync, Issuer: issuer, TransportURL: cfg.TransportURL}
	fd := feed.NewController(sync)

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")
	api.POST("/token", h.Token)
	api.POST("/disconnect", h.Disconnect)

	rooms := api.Group("/rooms/:slug")
	rooms.POST("/join", h.Join)
	rooms.POST("/mute", h.Mute)
	rooms.POST("/heartbeat", h.Heartbeat)
	rooms.GET("/participants", h.Participants)
	rooms.GET("/feed", func(c *gin.Context) {
		fd.HandleFeed(ctx, c)
	})

	return r
}
