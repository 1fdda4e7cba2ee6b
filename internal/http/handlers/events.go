package handlers

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const eventsKeepAlive = 25 * time.Second

// @Summary Stream session state changes
// @Description Server-sent events: a "state" event on connect and after every change, "ping" while idle,
// @Description and "closed" when the session ends.
// @Tags session
// @Produce text/event-stream
// @Router /api/session/events [get]
func (h *Handler) SessionEvents(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	sub := m.Subscribe()
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("state", viewOf(m))
	c.Writer.Flush()

	ping := time.NewTicker(eventsKeepAlive)
	defer ping.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case _, open := <-sub.C():
			if !open {
				c.SSEvent("closed", gin.H{"home": "/auth"})
				return false
			}
			c.SSEvent("state", viewOf(m))
			return true
		case <-ping.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
