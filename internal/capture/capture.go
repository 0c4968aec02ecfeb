// Package capture provides the audio devices a scheduler records from.
//
// A Device is acquired once per recording session. The returned Handle is
// driven with BeginSegment/EndSegment pairs; EndSegment cuts the continuously
// captured stream, so consecutive segments neither overlap nor leave a gap.
package capture

import (
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable is returned by Acquire when permission is denied or no device exists.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrDeviceLost is reported by a Handle whose device disappeared mid-session.
	ErrDeviceLost = errors.New("audio device lost")
)

// Format describes raw PCM produced by a device.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   string
}

// frameSize is the byte length of one 16-bit sample across all channels.
func (f Format) frameSize() int {
	if f.Channels < 1 {
		return 2
	}
	return 2 * f.Channels
}

// DefaultFormat is 16 kHz mono signed 16-bit little-endian PCM.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, Encoding: "s16le"}

// MIMEType is the container every Handle encodes segments into.
const MIMEType = "audio/wav"

// Device hands out exclusive capture handles.
type Device interface {
	Name() string
	Acquire(ctx context.Context) (Handle, error)
}

// Handle is an acquired device.
type Handle interface {
	// BeginSegment marks the start of a segment.
	BeginSegment() error
	// EndSegment returns the encoded audio captured since the segment began.
	// An empty slice means nothing was captured.
	EndSegment() ([]byte, error)
	// Release stops capturing and frees the device.
	Release() error
	// Done is closed when the device stops producing audio.
	Done() <-chan struct{}
	// Err reports why Done was closed; nil after a normal Release.
	Err() error
}
