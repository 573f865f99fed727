package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/mossy-p/callrelay/internal/logging"
	"github.com/mossy-p/callrelay/internal/media"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/negotiation"
	"github.com/mossy-p/callrelay/internal/session"
	"github.com/mossy-p/callrelay/internal/signalclient"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var errMissingIdentity = errors.New("identity must be set with --identity or CALLCLIENT_IDENTITY")

// participant is one connected call client
type participant struct {
	client  *signalclient.Client
	machine *session.Machine
	logger  *logrus.Entry
}

func connect(ctx context.Context) (*participant, error) {
	logger, err := logging.New(os.Stderr, viper.GetString("log-level"), false)
	if err != nil {
		return nil, err
	}
	identity := viper.GetString("identity")
	log := logrus.NewEntry(logger).WithField("identity", identity)

	origin := strings.TrimSuffix(viper.GetString("relay"), "/")
	token := viper.GetString("token")
	if token == "" && viper.GetBool("login") {
		if token, err = login(ctx, origin, identity); err != nil {
			return nil, err
		}
	}

	timings := callTimings()
	factory, err := negotiation.NewFactory(timings.ICEServers, log.WithField("component", "pion"))
	if err != nil {
		return nil, err
	}

	client, err := signalclient.Dial(ctx, websocketURL(origin), token, identity, log)
	if err != nil {
		return nil, err
	}

	machine := session.New(session.Config{
		Identity:    identity,
		Transport:   client,
		Media:       &media.SampleSource{},
		Negotiators: session.EngineFactory(factory, log.WithField("component", "negotiation")),
		Timings:     timings,
		Logger:      log,
	})
	client.Listen(machine.HandleSignal)

	return &participant{client: client, machine: machine, logger: log}, nil
}

func (p *participant) Close() {
	p.machine.Close()
	p.client.Close()
}

func websocketURL(origin string) string {
	switch {
	case strings.HasPrefix(origin, "https://"):
		origin = "wss://" + strings.TrimPrefix(origin, "https://")
	case strings.HasPrefix(origin, "http://"):
		origin = "ws://" + strings.TrimPrefix(origin, "http://")
	}
	return origin + "/ws/signal"
}

func login(ctx context.Context, origin, identity string) (string, error) {
	body, err := json.Marshal(models.LoginRequest{Identity: identity})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, origin+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: %s", resp.Status)
	}

	var out models.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	return out.Token, nil
}

func describe(n session.Notification) string {
	c := n.Call
	switch n.Kind {
	case session.NotifyIncoming:
		return fmt.Sprintf("incoming %s call from %s (%s)", c.Type, c.Peer, n.Surface)
	case session.NotifyEnded:
		if n.Err != nil {
			return fmt.Sprintf("call with %s ended: %s (%v)", c.Peer, n.Reason, n.Err)
		}
		return fmt.Sprintf("call with %s ended: %s", c.Peer, n.Reason)
	}
	if c.Reconnecting {
		return fmt.Sprintf("call with %s reconnecting", c.Peer)
	}
	if c.State == "" || c.State == session.StateIdle {
		return "idle"
	}
	return fmt.Sprintf("call with %s %s", c.Peer, c.State)
}
