package camera

import "errors"

// Sentinel errors shared by the capture pipeline. Per-frame conditions
// (ErrTimeout, ErrDecodeFailure) are recovered locally by the capture loop;
// the rest abort the operation that raised them.
var (
	ErrInvalidParam      = errors.New("invalid parameter")
	ErrNoDevice          = errors.New("no device found")
	ErrBusy              = errors.New("camera is busy")
	ErrDisconnected      = errors.New("device disconnected")
	ErrTimeout           = errors.New("operation timed out")
	ErrDecodeFailure     = errors.New("frame decode failed")
	ErrResourceExhausted = errors.New("resource allocation failed")
	ErrNotSupported      = errors.New("operation not supported")
)

// IsFatal reports whether err should abort the capture loop rather than be
// counted and skipped. Timeouts and decode failures are per-frame conditions.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrDecodeFailure)
}
