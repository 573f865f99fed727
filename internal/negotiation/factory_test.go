package negotiation

import (
	"context"
	"testing"

	"github.com/mossy-p/callrelay/internal/logging"
	"github.com/mossy-p/callrelay/internal/media"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_OfferCarriesRequestedMedia(t *testing.T) {
	factory, err := NewFactory([]string{"stun:stun.l.google.com:19302"}, logging.Discard())
	require.NoError(t, err)

	for callType, want := range map[models.CallType][]string{
		models.CallTypeVoice: {"audio"},
		models.CallTypeVideo: {"audio", "video"},
	} {
		t.Run(string(callType), func(t *testing.T) {
			engine, err := factory.New(callType, Handlers{}, nil)
			require.NoError(t, err)
			defer engine.Teardown()

			stream, err := (&media.SampleSource{}).Acquire(context.Background(), callType)
			require.NoError(t, err)
			defer stream.Stop()

			offer, err := engine.CreateOffer(stream)
			require.NoError(t, err)
			assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)

			kinds, err := MediaKinds(offer)
			require.NoError(t, err)
			assert.Equal(t, want, kinds)
		})
	}
}

func TestFactory_AnswerWithoutLocalMedia(t *testing.T) {
	factory, err := NewFactory(nil, logging.Discard())
	require.NoError(t, err)

	caller, err := factory.New(models.CallTypeVideo, Handlers{}, nil)
	require.NoError(t, err)
	defer caller.Teardown()
	callee, err := factory.New(models.CallTypeVideo, Handlers{}, nil)
	require.NoError(t, err)
	defer callee.Teardown()

	offer, err := caller.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, callee.SetRemoteOffer(offer))

	answer, err := callee.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, caller.ApplyRemoteAnswer(answer))

	kinds, err := MediaKinds(answer)
	require.NoError(t, err)
	assert.Equal(t, []string{"audio", "video"}, kinds)
}
