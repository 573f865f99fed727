// Package signalclient connects a call session to the relay over a websocket.
package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	registerWait = 10 * time.Second
	sendBuffer   = 256
)

var (
	ErrClosed           = errors.New("signal client is closed")
	ErrRegistration     = errors.New("relay refused registration")
	ErrSendBufferIsFull = errors.New("send buffer is full")
)

// Handler receives every envelope the relay delivers, in order
type Handler func(models.Envelope)

// Client is a registered relay connection. It implements session.Transport.
type Client struct {
	identity string
	conn     *websocket.Conn
	send     chan []byte
	logger   *logrus.Entry

	listenOnce sync.Once
	done       chan struct{}
	closeOnce  sync.Once
}

// Dial connects to the relay's websocket at url and registers identity.
// token is sent as a bearer token when non-empty.
func Dial(ctx context.Context, url, token, identity string, logger *logrus.Entry) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	c := &Client{
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		logger:   logger.WithField("identity", identity),
		done:     make(chan struct{}),
	}
	if err := c.register(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.writePump()
	return c, nil
}

// register runs before the pumps start, so it may use the connection directly
func (c *Client) register() error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(models.Envelope{Event: models.EventRegister, Identity: c.identity}); err != nil {
		return fmt.Errorf("failed to send registration: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(registerWait))
	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("failed to read registration reply: %w", err)
		}
		switch env.Event {
		case models.EventRegistered:
			c.logger.Info("registered with relay")
			return nil
		case models.EventError:
			return fmt.Errorf("%w: %s", ErrRegistration, env.Error)
		}
	}
}

// Identity returns the identity this connection registered
func (c *Client) Identity() string {
	return c.identity
}

// Listen starts delivering relay envelopes to handler. Only the first call
// has an effect.
func (c *Client) Listen(handler Handler) {
	c.listenOnce.Do(func() {
		go c.readPump(handler)
	})
}

// Send queues env for the relay
func (c *Client) Send(env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendBufferIsFull
	}
}

// Done is closed once the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close disconnects from the relay. The relay treats this like any other
// disconnect and ends a call in progress.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump(handler Handler) {
	defer c.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// the relay pings us; any traffic proves it is alive
	c.conn.SetPingHandler(func(data string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.logger.WithError(err).Warn("ignoring malformed relay message")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Warn("relay connection lost")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if env.Event == models.EventError {
			c.logger.WithField("error", env.Error).Warn("relay rejected a message")
		}
		handler(env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.WithError(err).Warn("failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
