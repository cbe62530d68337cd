// Package output drives the mixer from an audio clock.
//
// A [Backend] owns the real-time side of the system: it prepares the
// [Source] with the device's sample rate and block size, calls it from the
// device callback (or a ticker, for the headless [Null] backend) and
// releases it when stopped. Device backends live in sub-packages so that the
// cgo audio libraries are only linked when they are used.
package output

import (
	"context"
	"errors"
	"fmt"
)

// Source renders audio. [mixer.Processor] implements it.
type Source interface {
	PrepareToPlay(blockSize int, sampleRate float64)
	Process(out [][]float32)
	ProcessInterleaved(buf []float32, channels int)
	ReleaseResources()
}

// Format describes the stream a backend opens.
type Format struct {
	SampleRate float64
	BlockSize  int
	Channels   int
}

// Validate checks that f describes a playable stream.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %v must be > 0", f.SampleRate))
	}
	if f.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block size %d must be > 0", f.BlockSize))
	}
	if f.Channels != 1 && f.Channels != 2 {
		errs = append(errs, fmt.Errorf("channels %d must be 1 or 2", f.Channels))
	}
	return errors.Join(errs...)
}

// Backend plays a Source.
type Backend interface {
	// Name returns the configuration name of the backend.
	Name() string

	// Run opens the stream, plays until ctx is cancelled and then stops and
	// releases the source. It returns nil on a clean shutdown.
	Run(ctx context.Context) error

	// Running reports whether the stream is currently open.
	Running() bool
}
