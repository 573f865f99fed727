package negotiation

import (
	"fmt"
	"time"

	"github.com/mossy-p/callrelay/internal/logging"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// ICE timeouts. A short network blip should surface as "disconnected"
// (reconnecting) well before the connection is declared failed.
const (
	iceDisconnectedTimeout = 5 * time.Second
	iceFailedTimeout       = 25 * time.Second
	iceKeepaliveInterval   = 2 * time.Second
)

// Factory builds one Engine per call from a shared pion API
type Factory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	logger     *logrus.Entry
}

// NewFactory prepares the codecs, interceptors and settings shared by all calls
func NewFactory(iceServers []string, logger *logrus.Entry) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("error registering codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("error registering interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: logging.PionFactory{Entry: logger},
	}
	settingEngine.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine),
	)

	var servers []webrtc.ICEServer
	if len(iceServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Factory{api: api, iceServers: servers, logger: logger}, nil
}

// New creates a fresh peer connection and engine for one call.
// logger may be nil, in which case the factory's logger is used.
func (f *Factory) New(callType models.CallType, handlers Handlers, logger *logrus.Entry) (*Engine, error) {
	if logger == nil {
		logger = f.logger
	}
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
	if err != nil {
		return nil, fmt.Errorf("error creating peer connection: %w", err)
	}
	return New(pc, callType, handlers, logger), nil
}
