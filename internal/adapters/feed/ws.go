// Package feed streams membership change events to clients over a
// websocket, one connection per (client, room).
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/solvspace/voiceroom/internal/domain"
	"github.com/solvspace/voiceroom/internal/presence"
	"github.com/solvspace/voiceroom/internal/store"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Sync *presence.Synchronizer
}

func NewController(sync *presence.Synchronizer) *Controller {
	return &Controller{Sync: sync}
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) trySend(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleFeed upgrades the request and relays the room's change feed
// until the client goes away or the server shuts down. The store
// subscription is closed with the connection so no server-side channel
// leaks.
func (ctl *Controller) HandleFeed(ctx context.Context, c *gin.Context) {
	slug := domain.RoomSlug(c.Param("slug"))
	sid := c.GetString("client_token")
	log.Info().Str("module", "feed").Str("sid", sid).Str("slug", string(slug)).Msg("new feed connection")

	sub, err := ctl.Sync.Subscribe(ctx, slug)
	if err != nil {
		log.Error().Err(err).Str("module", "feed").Str("slug", string(slug)).Msg("subscribe")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feed unavailable"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "feed").Msg("ws upgrade")
		_ = sub.Close()
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.relay(ctx, cancel, sub.Events(), conn, sid)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn, func() { _ = sub.Close() })
}

// relay marshals feed events into the send channel. A client that
// cannot keep up gets dropped rather than buffered without bound.
func (ctl *Controller) relay(ctx context.Context, cancel context.CancelFunc, events <-chan store.ChangeEvent, conn *wsConn, sid string) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("module", "feed").Msg("marshal event")
				continue
			}
			if err := conn.trySend(b); err != nil {
				log.Warn().Err(err).Str("module", "feed").Str("sid", sid).Msg("dropping slow feed client")
				return
			}
		}
	}
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	defer c.close()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "feed").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "feed").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump only watches for the client closing the socket; the feed is
// one-way.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid string, c *wsConn, onClose func()) {
	defer func() {
		log.Info().Str("module", "feed").Str("sid", sid).Msg("feed connection closing")
		cancel()
		onClose()
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
