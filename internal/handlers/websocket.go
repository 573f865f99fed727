package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/callrelay/internal/middleware"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/relay"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
	// Envelopes carry SDP, which stays well under this.
	maxMessageSize = 64 * 1024
)

var errTokenMismatch = errors.New("identity does not match token")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id   string
	Conn *websocket.Conn
	Send chan []byte

	hub *relay.Hub
	// identity proven by the connection's token, empty for anonymous clients
	tokenIdentity string
	logger        *logrus.Entry

	done      chan struct{}
	closeOnce sync.Once
}

// ID implements relay.Conn
func (c *Client) ID() string { return c.id }

// Deliver queues data for the write pump without blocking the relay
func (c *Client) Deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// HandleSignaling upgrades the request and attaches the connection to hub.
// Runs after OptionalJWTAuth, so a token identity may be in the context.
func HandleSignaling(hub *relay.Hub, logger *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.WithError(err).Warn("failed to upgrade connection")
			return
		}

		client := &Client{
			id:            uuid.NewString(),
			Conn:          conn,
			Send:          make(chan []byte, sendBuffer),
			hub:           hub,
			tokenIdentity: c.GetString(middleware.IdentityKey),
			done:          make(chan struct{}),
		}
		client.logger = logger.WithField("conn", client.id)
		client.logger.WithField("token_identity", client.tokenIdentity).Debug("client connected")

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.close()
		c.logger.Debug("client disconnected")
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("websocket error")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.WithError(err).Debug("failed to parse message")
			c.sendError(models.ErrInvalidEnvelope)
			continue
		}

		if err := c.handle(env); err != nil {
			c.logger.WithError(err).WithField("event", env.Event).Debug("message rejected")
			c.sendError(err)
		}
	}
}

func (c *Client) handle(env models.Envelope) error {
	if env.Event != models.EventRegister {
		return c.hub.Handle(c, env)
	}
	if err := env.Validate(); err != nil {
		return err
	}
	if c.tokenIdentity != "" && env.Identity != c.tokenIdentity {
		return errTokenMismatch
	}
	return c.hub.Register(c, env.Identity)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.WithError(err).Debug("failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) sendError(err error) {
	data, mErr := json.Marshal(models.Envelope{Event: models.EventError, Error: err.Error()})
	if mErr != nil {
		c.logger.WithError(mErr).Error("failed to marshal error")
		return
	}
	if !c.Deliver(data) {
		c.logger.Warn("failed to send error, buffer full")
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}
