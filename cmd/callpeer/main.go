// Command callpeer is a headless call participant. It connects to a relay,
// optionally places a call, and answers or declines incoming calls.
package main

import (
	"context"
	"errors"
	"github.com/peterouob/pionCall/pkg/auth"
	"github.com/peterouob/pionCall/pkg/call"
	"github.com/peterouob/pionCall/pkg/config"
	"github.com/peterouob/pionCall/pkg/media"
	sig "github.com/peterouob/pionCall/pkg/signal"
	wbc "github.com/peterouob/pionCall/pkg/webrtc"
	"github.com/peterouob/pionCall/pkg/websocket"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to config.yaml")
		relayURL   = pflag.String("relay", "ws://localhost:8081/ws", "relay websocket url")
		token      = pflag.String("token", os.Getenv("CALL_TOKEN"), "identity token issued by calltoken")
		target     = pflag.String("call", "", "identity to call; empty waits for incoming calls")
		kind       = pflag.String("kind", string(sig.MediaAudio), "media kind for outgoing calls: audio or video")
		autoAccept = pflag.Bool("auto-accept", true, "answer incoming calls automatically")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalln("[callpeer] load config err:", err)
	}
	lf := cfg.LoggerFactory()
	logger := lf.NewLogger("callpeer")

	id, err := auth.PeekIdentity(*token)
	if err != nil {
		log.Fatalln("[callpeer] token err:", err)
	}
	mediaKind := sig.MediaKind(*kind)
	if !mediaKind.Valid() {
		log.Fatalf("[callpeer] invalid kind %q", *kind)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := media.NewCaptureDevice(lf.NewLogger("media"))
	if err != nil {
		log.Fatalln("[callpeer] capture device err:", err)
	}
	factory, err := wbc.NewFactory(cfg.ToWebRTC(), device, lf)
	if err != nil {
		log.Fatalln("[callpeer] webrtc err:", err)
	}
	client, err := websocket.Dial(ctx, *relayURL, *token, lf.NewLogger("websocket"))
	if err != nil {
		log.Fatalln("[callpeer] relay err:", err)
	}
	defer client.Close()

	m := call.New(id.UserID, cfg.ToCall(), call.Deps{
		Signaler: client,
		Media:    media.NewAcquirer(device, lf.NewLogger("media")),
		Peers:    call.FromFactory(factory),
		Log:      lf.NewLogger("call"),
	})
	defer m.Close()
	m.SetLocalSink(previewLogger{logger})

	m.Subscribe(func(ev call.Event) {
		switch ev.Type {
		case call.EventStateChanged:
			logger.Infof("[callpeer] state %s", ev.State)
		case call.EventIncomingCall:
			if !*autoAccept {
				logger.Infof("[callpeer] declining %s call from %s", ev.Call.MediaKind, ev.Call.Caller)
				go func() { _ = m.RejectIncoming(ev.Call.Caller) }()
				return
			}
			logger.Infof("[callpeer] answering %s call from %s", ev.Call.MediaKind, ev.Caller.ID)
			go func() {
				if err := m.AcceptIncoming(ctx, ev.Call); err != nil {
					logger.Warnf("[callpeer] accept failed: %s", call.Describe(err))
				}
			}()
		case call.EventRemoteTrack:
			go drain(ev.Track, logger)
		case call.EventCallEnded:
			logger.Infof("[callpeer] call ended: %s", call.Describe(ev.Err))
			if *target != "" {
				stop()
			}
		case call.EventError:
			logger.Errorf("[callpeer] %s", call.Describe(ev.Err))
		default:
			logger.Infof("[callpeer] %s", ev.Type)
		}
	})

	go func() {
		for s := range client.Signals() {
			m.HandleSignal(s)
		}
		logger.Warnf("[callpeer] relay connection closed")
		stop()
	}()

	if *target != "" {
		if err := m.Initiate(ctx, *target, mediaKind); err != nil {
			logger.Errorf("[callpeer] call %s failed: %s", *target, call.Describe(err))
			return
		}
	}
	logger.Infof("[callpeer] %s ready", id.UserID)
	<-ctx.Done()
	m.End()
}

// drain reads a remote track until it ends so RTCP feedback keeps flowing.
func drain(track *webrtc.TrackRemote, log logging.LeveledLogger) {
	var packets int
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debugf("[callpeer] remote %s track: %v", track.Kind(), err)
			}
			log.Infof("[callpeer] remote %s track done after %d packets", track.Kind(), packets)
			return
		}
		packets++
	}
}

type previewLogger struct {
	log logging.LeveledLogger
}

func (p previewLogger) AttachStream(s *media.Stream) {
	if s == nil {
		p.log.Infof("[callpeer] local preview detached")
		return
	}
	p.log.Infof("[callpeer] local preview %s (audio=%t video=%t)", s.ID(), s.HasAudio(), s.HasVideo())
}
