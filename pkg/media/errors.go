package media

import (
	"errors"
	"os"
	"strings"
)

var (
	ErrMediaUnavailable         = errors.New("media unavailable")
	ErrPermissionDenied         = errors.New("permission to capture denied")
	ErrDeviceNotFound           = errors.New("capture device not found")
	ErrDeviceBusy               = errors.New("capture device busy")
	ErrConstraintsUnsatisfiable = errors.New("capture constraints unsatisfiable")
)

// classify maps a platform capture error onto one of the package errors.
// Errors it cannot place are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrPermissionDenied, ErrDeviceNotFound, ErrDeviceBusy, ErrConstraintsUnsatisfiable} {
		if errors.Is(err, known) {
			return err
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, os.ErrPermission), strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return errors.Join(ErrPermissionDenied, err)
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"), strings.Contains(msg, "not readable"):
		return errors.Join(ErrDeviceBusy, err)
	case strings.Contains(msg, "fits the constraints"), strings.Contains(msg, "overconstrained"):
		return errors.Join(ErrConstraintsUnsatisfiable, err)
	case errors.Is(err, os.ErrNotExist), strings.Contains(msg, "not found"), strings.Contains(msg, "no such device"):
		return errors.Join(ErrDeviceNotFound, err)
	}
	return err
}
