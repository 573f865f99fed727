package relay

import (
	"context"
	"time"

	"github.com/mossy-p/callrelay/internal/worker"
	"github.com/sirupsen/logrus"
)

// Mirror receives a copy of every presence and pairing change.
// The hub's in-memory store stays authoritative.
type Mirror interface {
	SetOnline(ctx context.Context, identity string) error
	SetOffline(ctx context.Context, identity string) error
	SetPairing(ctx context.Context, a, b string) error
	ClearPairing(ctx context.Context, a, b string) error
}

type mirrorOp int

const (
	opOnline mirrorOp = iota
	opOffline
	opPair
	opUnpair
)

type mirrorTask struct {
	op   mirrorOp
	a, b string
}

const mirrorTimeout = 2 * time.Second

// asyncMirror applies mirror updates on a worker so Redis latency never
// holds the hub lock.
type asyncMirror struct {
	worker *worker.Worker[mirrorTask]
	logger *logrus.Entry
}

func newAsyncMirror(m Mirror, logger *logrus.Entry) *asyncMirror {
	if m == nil {
		return nil
	}
	am := &asyncMirror{logger: logger}
	am.worker = worker.Start(worker.Config[mirrorTask]{
		ChannelSize: 1024,
		OnTask: func(t mirrorTask) {
			ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()

			var err error
			switch t.op {
			case opOnline:
				err = m.SetOnline(ctx, t.a)
			case opOffline:
				err = m.SetOffline(ctx, t.a)
			case opPair:
				err = m.SetPairing(ctx, t.a, t.b)
			case opUnpair:
				err = m.ClearPairing(ctx, t.a, t.b)
			}
			if err != nil {
				logger.WithError(err).WithField("identity", t.a).Warn("presence mirror update failed")
			}
		},
	})
	return am
}

func (m *asyncMirror) send(t mirrorTask) {
	if m == nil {
		return
	}
	if err := m.worker.Send(t); err != nil {
		m.logger.WithError(err).Warn("dropping presence mirror update")
	}
}

func (m *asyncMirror) stop() {
	if m == nil {
		return
	}
	m.worker.Stop()
	<-m.worker.Done()
}
