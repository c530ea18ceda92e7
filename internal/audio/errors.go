package audio

import "errors"

var (
	// ErrNoInputDevice means no usable capture device/backend was found.
	ErrNoInputDevice = errors.New("no input device available")
	// ErrDeviceBusy means a capture session is already active or draining.
	ErrDeviceBusy = errors.New("capture device busy")
	// ErrStreamError wraps driver-level failures of an open stream.
	ErrStreamError = errors.New("audio stream error")
	// ErrNotCapturing means Stop was called outside the Capturing state.
	ErrNotCapturing = errors.New("not capturing")
)
