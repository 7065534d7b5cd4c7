//go:build !linux || !cgo

package media

import (
	"context"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

type captureDevice struct {
	log logging.LeveledLogger
}

// NewCaptureDevice returns a device that reports no capture hardware on
// platforms without a capture driver.
func NewCaptureDevice(log logging.LeveledLogger) (Device, error) {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("media")
	}
	log.Warn("[device] local capture is only supported on linux")
	return &captureDevice{log: log}, nil
}

func (d *captureDevice) Enumerate(context.Context) ([]DeviceInfo, error) {
	return nil, nil
}

func (d *captureDevice) GetUserMedia(context.Context, Constraints) (*Stream, error) {
	return nil, ErrDeviceNotFound
}

func (d *captureDevice) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}
