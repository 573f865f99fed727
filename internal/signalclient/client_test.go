package signalclient_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/callrelay/config"
	"github.com/mossy-p/callrelay/internal/handlers"
	"github.com/mossy-p/callrelay/internal/logging"
	"github.com/mossy-p/callrelay/internal/media"
	"github.com/mossy-p/callrelay/internal/middleware"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/negotiation"
	"github.com/mossy-p/callrelay/internal/relay"
	"github.com/mossy-p/callrelay/internal/session"
	"github.com/mossy-p/callrelay/internal/signalclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func startRelay(t *testing.T) (string, *relay.Hub) {
	t.Helper()
	cfg := config.Default()
	cfg.JWTSecret = secret
	hub := relay.NewHub(nil, logging.Discard())
	srv := httptest.NewServer(handlers.Router(cfg, hub, logging.Discard()))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal", hub
}

func dial(t *testing.T, url, identity string) *signalclient.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := signalclient.Dial(ctx, url, "", identity, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func collect(c *signalclient.Client) <-chan models.Envelope {
	out := make(chan models.Envelope, 64)
	c.Listen(func(env models.Envelope) { out <- env })
	return out
}

func next(t *testing.T, ch <-chan models.Envelope, event models.Event) models.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-ch:
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("never received %s", event)
			return models.Envelope{}
		}
	}
}

func TestClient_RoutesThroughRelay(t *testing.T) {
	url, hub := startRelay(t)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	assert.ElementsMatch(t, []string{"alice", "bob"}, hub.Online())

	bobInbox := collect(bob)
	require.NoError(t, alice.Send(models.Control(models.EventCallTimeout, "bob", "call-1")))

	env := next(t, bobInbox, models.EventCallTimeout)
	assert.Equal(t, "alice", env.From)
	assert.Equal(t, "call-1", env.CallID)
}

func TestClient_CloseGoesOffline(t *testing.T) {
	url, hub := startRelay(t)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	bobInbox := collect(bob)

	alice.Close()
	<-alice.Done()

	env := next(t, bobInbox, models.EventUserOffline)
	assert.Equal(t, "alice", env.Identity)
	assert.Equal(t, []string{"bob"}, hub.Online())
	assert.ErrorIs(t, alice.Send(models.Control(models.EventCallEnd, "bob", "")), signalclient.ErrClosed)
}

func TestClient_RegistrationRefused(t *testing.T) {
	url, _ := startRelay(t)
	token, err := middleware.IssueToken(secret, "alice", time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = signalclient.Dial(ctx, url, token, "mallory", logging.Discard())
	assert.ErrorIs(t, err, signalclient.ErrRegistration)

	c, err := signalclient.Dial(ctx, url, token, "alice", logging.Discard())
	require.NoError(t, err)
	c.Close()
}

// participant is a full client stack: websocket, session machine and pion
type participant struct {
	client  *signalclient.Client
	machine *session.Machine
}

func join(t *testing.T, url, identity string, factory *negotiation.Factory) *participant {
	t.Helper()
	client := dial(t, url, identity)
	logger := logging.Discard().WithField("identity", identity)
	m := session.New(session.Config{
		Identity:    identity,
		Transport:   client,
		Media:       &media.SampleSource{},
		Negotiators: session.EngineFactory(factory, logger),
		Timings:     config.DefaultCall(),
		Logger:      logger,
	})
	client.Listen(m.HandleSignal)
	t.Cleanup(m.Close)
	return &participant{client: client, machine: m}
}

func (p *participant) waitState(t *testing.T, state session.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.machine.Snapshot().State == state
	}, 5*time.Second, 10*time.Millisecond, "state never became %s", state)
}

func TestClient_SessionsNegotiateOverRelay(t *testing.T) {
	url, hub := startRelay(t)
	factory, err := negotiation.NewFactory(nil, logging.Discard())
	require.NoError(t, err)

	alice := join(t, url, "alice", factory)
	bob := join(t, url, "bob", factory)

	call, err := alice.machine.StartCall("bob", models.CallTypeVideo)
	require.NoError(t, err)

	bob.waitState(t, session.StateIncoming)
	incoming := bob.machine.Snapshot()
	assert.Equal(t, call.ID, incoming.ID)
	assert.Equal(t, models.CallTypeVideo, incoming.Type)
	assert.Equal(t, "alice", incoming.Peer)

	require.NoError(t, bob.machine.AcceptCall())
	alice.waitState(t, session.StateConnecting)
	assert.Contains(t, []session.State{session.StateConnecting, session.StateConnected}, bob.machine.Snapshot().State)

	pairing, ok := hub.PairingOf("alice")
	require.True(t, ok)
	assert.Equal(t, "bob", pairing.Partner)

	require.NoError(t, alice.machine.EndCall())
	bob.waitState(t, session.StateIdle)
	alice.waitState(t, session.StateIdle)
	_, ok = hub.PairingOf("bob")
	assert.False(t, ok)
}
