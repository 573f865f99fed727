package media

import (
	"context"

	"github.com/google/uuid"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/pion/webrtc/v4"
)

var (
	opusCodec = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}
	vp8Codec = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
)

// SampleSource produces tracks the application feeds with encoded samples
// (Opus audio, VP8 video). It never prompts, so it only fails when the
// context is already done.
type SampleSource struct {
	// Camera used for new video streams. Defaults to FacingUser.
	Facing Facing
	// Called whenever a stream acquired from this source is stopped.
	OnStop func(*Stream)
}

// Acquire implements Source
func (src *SampleSource) Acquire(ctx context.Context, callType models.CallType) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	facing := src.Facing
	if facing == "" {
		facing = FacingUser
	}

	s := &Stream{ID: "stream-" + uuid.NewString(), Type: callType, facing: facing}

	audio, err := newTrack(opusCodec, "audio", s.ID)
	if err != nil {
		return nil, err
	}
	s.audio = audio

	if callType == models.CallTypeVideo {
		video, err := newTrack(vp8Codec, "video-"+string(facing), s.ID)
		if err != nil {
			return nil, err
		}
		s.video = video
	}

	if src.OnStop != nil {
		s.onStop = func() { src.OnStop(s) }
	}
	return s, nil
}
