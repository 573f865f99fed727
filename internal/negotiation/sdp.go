package negotiation

import (
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// MediaKinds lists the media sections ("audio", "video", ...) of desc in order.
// It fails if desc does not parse as SDP.
func MediaKinds(desc webrtc.SessionDescription) ([]string, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescription, err)
	}

	kinds := make([]string, 0, len(parsed.MediaDescriptions))
	for _, md := range parsed.MediaDescriptions {
		kinds = append(kinds, md.MediaName.Media)
	}
	return kinds, nil
}
