package wbc

import (
	"errors"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"time"
)

const DefaultPLITimeout = 3000 * time.Millisecond

var ErrNoCodecs = errors.New("no codec registrar")

// CodecRegistrar fills a media engine with the codecs local tracks are
// encoded with.
type CodecRegistrar interface {
	RegisterCodecs(me *webrtc.MediaEngine) error
}

type Config struct {
	ICEServers          []webrtc.ICEServer
	PLIInterval         time.Duration
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	// IncludeLoopback gathers 127.0.0.1 host candidates, for same-host calls.
	IncludeLoopback bool
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
				"stun:stun2.l.google.com:19302",
			}},
		},
		PLIInterval:         DefaultPLITimeout,
		DisconnectedTimeout: 10 * time.Second,
		FailedTimeout:       30 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Factory builds peer connections sharing one pion API.
type Factory struct {
	pionAPI  *webrtc.API
	pcConfig webrtc.Configuration
	lf       logging.LoggerFactory
	log      logging.LeveledLogger
}

func NewFactory(cfg Config, codecs CodecRegistrar, lf logging.LoggerFactory) (*Factory, error) {
	if codecs == nil {
		return nil, ErrNoCodecs
	}
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	log := lf.NewLogger("webrtc")

	mediaEngine := &webrtc.MediaEngine{}
	if err := codecs.RegisterCodecs(mediaEngine); err != nil {
		log.Errorf("[webrtc] register codecs err: %v", err)
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, i); err != nil {
		log.Errorf("[webrtc] register default interceptors err: %v", err)
		return nil, err
	}

	pli := cfg.PLIInterval
	if pli <= 0 {
		pli = DefaultPLITimeout
	}
	intervalPli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(pli))
	if err != nil {
		log.Errorf("[webrtc] new interval pli err: %v", err)
		return nil, err
	}
	i.Add(intervalPli)

	se := webrtc.SettingEngine{LoggerFactory: lf}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	)

	log.Infof("[webrtc] factory initialized with %d ice servers", len(cfg.ICEServers))
	return &Factory{
		pionAPI:  api,
		pcConfig: webrtc.Configuration{ICEServers: cfg.ICEServers},
		lf:       lf,
		log:      log,
	}, nil
}

// NewPeer opens a peer connection towards remote. Observer callbacks in
// events are invoked one at a time, in the order pion reports them.
func (f *Factory) NewPeer(remote string, events PeerEvents) (*Peer, error) {
	pc, err := f.pionAPI.NewPeerConnection(f.pcConfig)
	if err != nil {
		f.log.Errorf("[webrtc] new peer connection err: %v", err)
		return nil, err
	}
	return newPeer(pc, remote, events, f.lf.NewLogger("webrtc")), nil
}
