package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/solvspace/voiceroom/internal/domain"
	"github.com/solvspace/voiceroom/internal/layout"
	"github.com/solvspace/voiceroom/internal/presence"
	"github.com/solvspace/voiceroom/internal/token"
)

type Handlers struct {
	Sync   *presence.Synchronizer
	Issuer *token.Issuer

	// TransportURL is the media server base URL handed to clients along
	// with their credential.
	TransportURL string
}

type tokenRequest struct {
	RoomName string `json:"roomName" binding:"required"`
	Username string `json:"username" binding:"required"`
}

// Token mints a join credential for the media transport.
func (h *Handlers) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing roomName or username"})
		return
	}

	signed, err := h.Issuer.Mint(req.RoomName, req.Username)
	if err != nil {
		if errors.Is(err, token.ErrMissingCredentials) {
			log.Error().Str("module", "adapters.http").Msg("token credentials not configured")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "media credentials not configured"})
			return
		}
		log.Error().Err(err).Str("module", "adapters.http").Msg("token mint")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed, "url": h.TransportURL})
}

type disconnectRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Slug   string `json:"slug" binding:"required"`
}

// Disconnect removes a membership row. Also the target of the unload
// beacon, so the handler asks no questions beyond field presence: the
// sender may never read the response.
func (h *Handlers) Disconnect(c *gin.Context) {
	var req disconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id or slug"})
		return
	}

	log.Info().Str("module", "adapters.http").Str("user", req.UserID).Str("slug", req.Slug).Msg("disconnect")
	if err := h.Sync.Leave(c.Request.Context(), domain.RoomSlug(req.Slug), domain.UserID(req.UserID)); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("disconnect delete")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type joinRequest struct {
	Username string `json:"username"`
}

// identity returns the stable per-browser user id set by the cookie
// middleware.
func identity(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString("client_token"))
}

// displayName returns the session's display name, generating and
// persisting one on first use so it stays stable for the session.
func displayName(c *gin.Context, requested string) string {
	sess := sessions.Default(c)
	if requested != "" {
		sess.Set("username", requested)
		_ = sess.Save()
		return requested
	}
	if v, ok := sess.Get("username").(string); ok && v != "" {
		return v
	}
	name := domain.RandomDisplayName()
	sess.Set("username", name)
	_ = sess.Save()
	return name
}

func (h *Handlers) Join(c *gin.Context) {
	slug := domain.RoomSlug(c.Param("slug"))
	var req joinRequest
	_ = c.ShouldBindJSON(&req)
	if req.Username != "" {
		if err := domain.ValidateUsername(req.Username); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	uid := identity(c)
	name := displayName(c, req.Username)

	p, err := h.Sync.Join(c.Request.Context(), slug, uid, name)
	if errors.Is(err, domain.ErrRoomFull) {
		c.JSON(http.StatusConflict, gin.H{"error": "room full"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("slug", string(slug)).Msg("join")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	members, count, err := h.Sync.Snapshot(c.Request.Context(), slug)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("slug", string(slug)).Msg("snapshot after join")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"participant":  p,
		"participants": members,
		"count":        count,
		"capacity":     h.Sync.Capacity(),
	})
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

// Mute sets the caller's own global mute flag. Only the row's owner
// reaches this path; other participants' flags are read-only here.
func (h *Handlers) Mute(c *gin.Context) {
	slug := domain.RoomSlug(c.Param("slug"))
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing muted"})
		return
	}

	err := h.Sync.SetMuted(c.Request.Context(), slug, identity(c), *req.Muted)
	if errors.Is(err, domain.ErrParticipantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not in room"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("slug", string(slug)).Msg("mute")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
}

func (h *Handlers) Heartbeat(c *gin.Context) {
	slug := domain.RoomSlug(c.Param("slug"))
	err := h.Sync.Heartbeat(c.Request.Context(), slug, identity(c))
	if errors.Is(err, domain.ErrParticipantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not in room"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("slug", string(slug)).Msg("heartbeat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) Participants(c *gin.Context) {
	slug := domain.RoomSlug(c.Param("slug"))
	members, count, err := h.Sync.Snapshot(c.Request.Context(), slug)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("slug", string(slug)).Msg("participants")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"participants": members,
		"count":        count,
		"capacity":     h.Sync.Capacity(),
		"full":         layout.RoomFull(count, h.Sync.Capacity()),
	})
}
