// Package media owns local capture streams for a call.
//
// A Stream is owned by whoever acquired it; only the owner stops it.
// Other components may borrow its tracks to attach them to a peer connection.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mossy-p/callrelay/internal/models"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrNoDevice         = errors.New("no capture device available")
	ErrAcquireTimeout   = errors.New("media acquisition timed out")
	ErrNoTrack          = errors.New("stream has no such track")
	ErrStopped          = errors.New("stream already stopped")
)

// Facing selects the camera for video capture
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Source acquires local media for a call type
type Source interface {
	Acquire(ctx context.Context, callType models.CallType) (*Stream, error)
}

// Track is a local sample track that can be muted without renegotiating.
// Samples written while disabled are dropped.
type Track struct {
	*webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

func newTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{TrackLocalStaticSample: local}
	t.enabled.Store(true)
	return t, nil
}

// Enabled reports whether samples are currently forwarded
func (t *Track) Enabled() bool { return t.enabled.Load() }

// WriteSample forwards s to the peer unless the track is disabled
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}

// Stream is the set of local tracks captured for one call
type Stream struct {
	ID   string
	Type models.CallType

	mu      sync.Mutex
	audio   *Track
	video   *Track
	facing  Facing
	stopped bool
	onStop  func()
}

// Audio returns the audio track
func (s *Stream) Audio() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// Video returns the video track, nil for voice calls
func (s *Stream) Video() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// Facing returns the camera currently feeding the video track
func (s *Stream) Facing() Facing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facing
}

// Tracks returns every track of the stream, audio first
func (s *Stream) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracks := make([]*Track, 0, 2)
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

// Stop releases the capture devices. Only the first call has an effect;
// it reports whether this call did the stopping.
func (s *Stream) Stop() bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.stopped = true
	onStop := s.onStop
	s.mu.Unlock()

	if onStop != nil {
		onStop()
	}
	return true
}

// Stopped reports whether Stop has been called
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// ToggleAudioEnabled flips the audio track. It returns the new enabled state.
func ToggleAudioEnabled(s *Stream) (bool, error) {
	return toggle(s, s.Audio())
}

// ToggleVideoEnabled flips the video track. It returns the new enabled state.
func ToggleVideoEnabled(s *Stream) (bool, error) {
	return toggle(s, s.Video())
}

func toggle(s *Stream, t *Track) (bool, error) {
	if s.Stopped() {
		return false, ErrStopped
	}
	if t == nil {
		return false, ErrNoTrack
	}
	for {
		cur := t.enabled.Load()
		if t.enabled.CompareAndSwap(cur, !cur) {
			return !cur, nil
		}
	}
}

// ReplaceVideoTrack swaps the stream's video track for one fed by the
// camera facing the given way. The enabled state carries over. attach, when
// set, hands the new track to its consumer first; if it fails the stream
// keeps the old track.
func ReplaceVideoTrack(s *Stream, facing Facing, attach func(*Track) error) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrStopped
	}
	if s.video == nil {
		return nil, ErrNoTrack
	}

	next, err := newTrack(vp8Codec, fmt.Sprintf("video-%s", facing), s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	next.enabled.Store(s.video.enabled.Load())
	if attach != nil {
		if err := attach(next); err != nil {
			return nil, err
		}
	}
	s.video = next
	s.facing = facing
	return s, nil
}

// Acquire runs src.Acquire but gives up after timeout even if the source
// ignores its context. A stream that arrives after the deadline is stopped.
func Acquire(ctx context.Context, src Source, callType models.CallType, timeout time.Duration) (*Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		stream *Stream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stream, err := src.Acquire(ctx, callType)
		done <- result{stream, err}
	}()

	select {
	case r := <-done:
		return r.stream, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.stream != nil {
				r.stream.Stop()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrAcquireTimeout
		}
		return nil, ctx.Err()
	}
}
