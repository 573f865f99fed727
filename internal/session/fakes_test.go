package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mossy-p/callrelay/config"
	"github.com/mossy-p/callrelay/internal/logging"
	"github.com/mossy-p/callrelay/internal/media"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/negotiation"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeTransport struct {
	sent chan models.Envelope
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan models.Envelope, 64)}
}

func (t *fakeTransport) Send(env models.Envelope) error {
	t.sent <- env
	return nil
}

func (t *fakeTransport) next(tb testing.TB) models.Envelope {
	tb.Helper()
	select {
	case env := <-t.sent:
		return env
	case <-time.After(waitFor):
		tb.Fatal("nothing was sent")
		return models.Envelope{}
	}
}

// quiet asserts nothing else gets sent for a short while
func (t *fakeTransport) quiet(tb testing.TB) {
	tb.Helper()
	select {
	case env := <-t.sent:
		tb.Fatalf("unexpected %s sent to %s", env.Event, env.To)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeNegotiator struct {
	handlers negotiation.Handlers

	mu          sync.Mutex
	calls       []string
	candidates  []string
	offerErr    error
	replaceErr  error
	stream      *media.Stream
	teardowns   int
	videoTracks int
}

func (n *fakeNegotiator) record(call string) {
	n.mu.Lock()
	n.calls = append(n.calls, call)
	n.mu.Unlock()
}

func (n *fakeNegotiator) CreateOffer(stream *media.Stream) (webrtc.SessionDescription, error) {
	n.record("create-offer")
	n.mu.Lock()
	n.stream = stream
	n.mu.Unlock()
	if n.offerErr != nil {
		return webrtc.SessionDescription{}, n.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (n *fakeNegotiator) SetRemoteOffer(webrtc.SessionDescription) error {
	n.record("set-remote-offer")
	return nil
}

func (n *fakeNegotiator) CreateAnswer(*media.Stream) (webrtc.SessionDescription, error) {
	n.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (n *fakeNegotiator) ApplyRemoteAnswer(webrtc.SessionDescription) error {
	n.record("apply-remote-answer")
	return nil
}

func (n *fakeNegotiator) AddRemoteICECandidate(c webrtc.ICECandidateInit) error {
	n.mu.Lock()
	n.candidates = append(n.candidates, c.Candidate)
	n.mu.Unlock()
	return nil
}

func (n *fakeNegotiator) ReplaceVideoTrack(webrtc.TrackLocal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.replaceErr != nil {
		return n.replaceErr
	}
	n.videoTracks++
	return nil
}

func (n *fakeNegotiator) Teardown() {
	n.mu.Lock()
	n.teardowns++
	n.mu.Unlock()
}

func (n *fakeNegotiator) state(s webrtc.PeerConnectionState) {
	n.handlers.OnConnectionState(s)
}

func (n *fakeNegotiator) localCandidate(c string) {
	n.handlers.OnLocalCandidate(webrtc.ICECandidateInit{Candidate: c})
}

func (n *fakeNegotiator) snapshot() (calls, candidates []string, teardowns int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...), append([]string(nil), n.candidates...), n.teardowns
}

// fakeNegotiators hands out one fakeNegotiator per call
type fakeNegotiators struct {
	created  chan *fakeNegotiator
	offerErr error
}

func newFakeNegotiators() *fakeNegotiators {
	return &fakeNegotiators{created: make(chan *fakeNegotiator, 16)}
}

func (f *fakeNegotiators) factory(_ models.CallType, handlers negotiation.Handlers) (Negotiator, error) {
	n := &fakeNegotiator{handlers: handlers, offerErr: f.offerErr}
	f.created <- n
	return n, nil
}

func (f *fakeNegotiators) next(tb testing.TB) *fakeNegotiator {
	tb.Helper()
	select {
	case n := <-f.created:
		return n
	case <-time.After(waitFor):
		tb.Fatal("no negotiator was created")
		return nil
	}
}

// countingSource wraps SampleSource and counts stream stops
type countingSource struct {
	media.SampleSource
	stops atomic.Int32
}

func newCountingSource() *countingSource {
	src := &countingSource{}
	src.OnStop = func(*media.Stream) { src.stops.Add(1) }
	return src
}

type failingSource struct {
	err error
}

func (s failingSource) Acquire(context.Context, models.CallType) (*media.Stream, error) {
	return nil, s.err
}

type harness struct {
	m         *Machine
	transport *fakeTransport
	negs      *fakeNegotiators
	source    *countingSource
}

func testTimings() config.CallConfig {
	return config.CallConfig{
		RingTimeout:     time.Minute,
		EndedGrace:      20 * time.Millisecond,
		DuplicateWindow: time.Second,
		MediaTimeout:    time.Second,
	}
}

func newHarness(t *testing.T, identity string, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		negs:      newFakeNegotiators(),
		source:    newCountingSource(),
	}
	cfg := Config{
		Identity:    identity,
		Transport:   h.transport,
		Media:       h.source,
		Negotiators: h.negs.factory,
		Timings:     testTimings(),
		Logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.m = New(cfg)
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) waitState(t *testing.T, state State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.m.Snapshot().State == state
	}, waitFor, 5*time.Millisecond, "state never became %s", state)
}

// ended waits for the notification that closes the current call
func (h *harness) ended(t *testing.T) Notification {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case n := <-h.m.Notifications():
			if n.Kind == NotifyEnded {
				return n
			}
		case <-deadline:
			t.Fatal("call never ended")
			return Notification{}
		}
	}
}

// sync waits until everything queued so far has been handled
func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.do(func() error { return nil }))
}

func incomingCall(from, callID string, callType models.CallType) models.Envelope {
	return models.Envelope{
		Event:    models.EventIncomingCall,
		From:     from,
		CallID:   callID,
		CallType: callType,
		SDP:      &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"},
	}
}

func fromPeer(event models.Event, from, callID string) models.Envelope {
	return models.Envelope{Event: event, From: from, CallID: callID}
}
