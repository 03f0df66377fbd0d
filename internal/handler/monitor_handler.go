package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/interview-engine/internal/config"
)

const keepAliveInterval = 30 * time.Second

// MonitorHandler relays a session's journal to observers over SSE. Events
// come through Redis PubSub, so observers see sessions running on any
// instance.
type MonitorHandler struct {
	rdb  *redis.Client
	host SessionHost
	log  zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, host SessionHost, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:  rdb,
		host: host,
		log:  log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorSessionSSE godoc
// GET /api/v1/sessions/:session_id/monitor
func (h *MonitorHandler) MonitorSessionSSE(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	// Initial snapshot: the local view when this instance runs the session.
	snapshot := map[string]interface{}{"type": "snapshot", "session_id": id, "attached": false}
	if ctrl, err := h.host.Get(id); err == nil {
		snapshot["attached"] = true
		snapshot["view"] = ctrl.View()
	}
	c.SSEvent("message", snapshot)
	c.Writer.Flush()

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.SessionMonitorChannel(id.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	h.log.Info().Str("session_id", id.String()).Msg("Observer attached to session monitor")
	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("session_id", id.String()).Msg("Observer detached from session monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payload is already JSON; forward as is.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-keepAlive.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}
