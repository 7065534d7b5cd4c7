package call

import (
	"errors"
	"fmt"
	"github.com/peterouob/pionCall/pkg/media"
	"github.com/peterouob/pionCall/pkg/signal"
)

var (
	ErrMediaUnavailable = media.ErrMediaUnavailable
	ErrPermissionDenied = media.ErrPermissionDenied
	ErrDeviceBusy       = media.ErrDeviceBusy

	ErrSignalingUnavailable = errors.New("signaling channel unavailable")
	ErrCallInProgress       = errors.New("a call is already in progress")
	ErrRateLimited          = errors.New("call attempted too soon after the previous one")
	ErrIceFailure           = errors.New("ice connection failed")
	ErrRemoteRejected       = errors.New("call rejected by remote")
	ErrRemoteEnded          = errors.New("call ended by remote")
	ErrUnknownSignaling     = errors.New("signaling error")
	ErrPeerDisconnected     = errors.New("peer connection lost")
	ErrPeerUnreachable      = errors.New("remote user is not reachable")
	ErrNoAnswer             = errors.New("no answer")

	ErrInvalidState  = errors.New("operation not valid in the current call state")
	ErrInvalidTarget = errors.New("invalid call target")
	ErrCallCancelled = errors.New("call cancelled")
	ErrNoAudioTrack  = errors.New("no local audio track")
)

// Describe turns a call error into a short message fit for an end user.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "permission to use the camera or microphone was denied"
	case errors.Is(err, ErrDeviceBusy):
		return "the camera or microphone is in use by another application"
	case errors.Is(err, ErrMediaUnavailable):
		return "camera or microphone unavailable"
	case errors.Is(err, ErrSignalingUnavailable):
		return "not connected to the call server"
	case errors.Is(err, ErrCallInProgress):
		return "a call is already in progress"
	case errors.Is(err, ErrRateLimited):
		return "please wait a moment before calling again"
	case errors.Is(err, ErrIceFailure):
		return "call failed: network connection lost"
	case errors.Is(err, ErrPeerDisconnected):
		return "call dropped: the other side disconnected"
	case errors.Is(err, ErrPeerUnreachable):
		return "the person you are calling is offline"
	case errors.Is(err, ErrRemoteRejected):
		return "call declined"
	case errors.Is(err, ErrRemoteEnded):
		return "call ended"
	case errors.Is(err, ErrNoAnswer):
		return "no answer"
	default:
		return "call failed"
	}
}

func errorFromCode(code, message string) error {
	var base error
	switch code {
	case signal.CodeCallInProgress:
		base = ErrCallInProgress
	case signal.CodeRateLimited:
		base = ErrRateLimited
	case signal.CodeUnreachable:
		base = ErrPeerUnreachable
	default:
		base = ErrUnknownSignaling
	}
	if message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, message)
}
