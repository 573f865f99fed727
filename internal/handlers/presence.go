package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/callrelay/config"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/relay"
)

// ListPresence returns every identity currently connected to the relay
func ListPresence(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		online := hub.Online()
		c.JSON(http.StatusOK, models.PresenceList{
			Online: online,
			Count:  len(online),
		})
	}
}

// GetPresence reports whether one identity is online and whom it is talking to
func GetPresence(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Lookup(c.Param("identity")))
	}
}

// GetCallSettings publishes the call timings and ICE servers clients should use
func GetCallSettings(call config.CallConfig) gin.HandlerFunc {
	settings := models.CallSettings{
		RingTimeoutMs:     call.RingTimeout.Milliseconds(),
		EndedGraceMs:      call.EndedGrace.Milliseconds(),
		DuplicateWindowMs: call.DuplicateWindow.Milliseconds(),
		MediaTimeoutMs:    call.MediaTimeout.Milliseconds(),
		ICEServers:        call.ICEServers,
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, settings)
	}
}
