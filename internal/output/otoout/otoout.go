// Package otoout plays a mixer through ebitengine/oto, which pulls audio
// from an io.Reader on its own goroutine.
package otoout

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/sonichess/internal/output"
)

// Name is the configuration name of the oto backend.
const Name = "oto"

const bytesPerSample = 4 // float32 little endian

// Backend adapts the mixer to oto's pull model: oto reads bytes, the reader
// renders interleaved float32 frames with [output.Source.ProcessInterleaved]
// and encodes them.
type Backend struct {
	format  output.Format
	reader  *reader
	running atomic.Bool
}

// Compile-time interface assertion.
var _ output.Backend = (*Backend)(nil)

// New returns an oto backend for src. The device is opened by Run. oto
// supports a single context per process, so only one Backend may run.
func New(src output.Source, f output.Format) (*Backend, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("output: oto: %w", err)
	}
	return &Backend{format: f, reader: newReader(src, f)}, nil
}

// Name implements [output.Backend].
func (b *Backend) Name() string { return Name }

// Running implements [output.Backend].
func (b *Backend) Running() bool { return b.running.Load() }

// Run implements [output.Backend].
func (b *Backend) Run(ctx context.Context) error {
	b.reader.src.PrepareToPlay(b.format.BlockSize, b.format.SampleRate)
	defer b.reader.src.ReleaseResources()

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(b.format.SampleRate),
		ChannelCount: b.format.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   time.Duration(float64(b.format.BlockSize) / b.format.SampleRate * float64(time.Second)),
	})
	if err != nil {
		return fmt.Errorf("output: oto: new context: %w", err)
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil
	}

	player := otoCtx.NewPlayer(b.reader)
	player.Play()
	b.running.Store(true)
	<-ctx.Done()
	b.running.Store(false)

	if err := player.Close(); err != nil {
		return fmt.Errorf("output: oto: close player: %w", err)
	}
	return nil
}

// reader is the io.Reader handed to oto.
type reader struct {
	src      output.Source
	channels int
	samples  []float32
}

func newReader(src output.Source, f output.Format) *reader {
	return &reader{
		src:      src,
		channels: f.Channels,
		samples:  make([]float32, f.BlockSize*f.Channels),
	}
}

// Read renders as many whole frames as fit in p.
func (r *reader) Read(p []byte) (int, error) {
	frameBytes := r.channels * bytesPerSample
	frames := len(p) / frameBytes
	if frames == 0 {
		clear(p)
		return len(p), nil
	}

	n := frames * r.channels
	if cap(r.samples) < n {
		r.samples = make([]float32, n)
	}
	samples := r.samples[:n]
	r.src.ProcessInterleaved(samples, r.channels)

	for i, s := range samples {
		binary.LittleEndian.PutUint32(p[i*bytesPerSample:], math.Float32bits(s))
	}
	return n * bytesPerSample, nil
}
