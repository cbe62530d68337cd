// Package pa plays a mixer through the system's default PortAudio output
// device.
package pa

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/sonichess/internal/output"
)

// Name is the configuration name of the PortAudio backend.
const Name = "portaudio"

// Backend opens a non-interleaved PortAudio output stream whose callback
// renders straight into the device buffers with [output.Source.Process].
type Backend struct {
	src     output.Source
	format  output.Format
	running atomic.Bool
}

// Compile-time interface assertion.
var _ output.Backend = (*Backend)(nil)

// New returns a PortAudio backend for src. The device is opened by Run.
func New(src output.Source, f output.Format) (*Backend, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("output: portaudio: %w", err)
	}
	return &Backend{src: src, format: f}, nil
}

// Name implements [output.Backend].
func (b *Backend) Name() string { return Name }

// Running implements [output.Backend].
func (b *Backend) Running() bool { return b.running.Load() }

// Run implements [output.Backend].
func (b *Backend) Run(ctx context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("output: portaudio: initialize: %w", err)
	}
	defer portaudio.Terminate()

	b.src.PrepareToPlay(b.format.BlockSize, b.format.SampleRate)
	defer b.src.ReleaseResources()

	stream, err := portaudio.OpenDefaultStream(0, b.format.Channels, b.format.SampleRate, b.format.BlockSize, b.callback)
	if err != nil {
		return fmt.Errorf("output: portaudio: open stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("output: portaudio: start stream: %w", err)
	}
	b.running.Store(true)
	<-ctx.Done()
	b.running.Store(false)

	if err := stream.Stop(); err != nil {
		return fmt.Errorf("output: portaudio: stop stream: %w", err)
	}
	return nil
}

// callback runs on the PortAudio thread.
func (b *Backend) callback(out [][]float32) {
	b.src.Process(out)
}
