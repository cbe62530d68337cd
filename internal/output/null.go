package output

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// NullName is the configuration name of the [Null] backend.
const NullName = "null"

// Null renders blocks on a ticker at the stream's real-time pace and
// discards them, or hands them to a sink. It needs no audio device, which
// makes it the backend for headless servers and tests.
type Null struct {
	src      Source
	format   Format
	interval time.Duration
	sink     func(block [][]float32)

	running atomic.Bool
	blocks  atomic.Int64
}

// Compile-time interface assertion.
var _ Backend = (*Null)(nil)

// NullOption configures a [Null] backend.
type NullOption func(*Null)

// WithSink receives every rendered block. The slices are reused, so sink
// must copy what it keeps. It runs on the render goroutine.
func WithSink(sink func(block [][]float32)) NullOption {
	return func(n *Null) { n.sink = sink }
}

// WithInterval overrides the real-time pace between blocks.
func WithInterval(d time.Duration) NullOption {
	return func(n *Null) {
		if d > 0 {
			n.interval = d
		}
	}
}

// NewNull returns a headless backend for src.
func NewNull(src Source, f Format, opts ...NullOption) (*Null, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("output: null: %w", err)
	}
	n := &Null{
		src:      src,
		format:   f,
		interval: time.Duration(float64(f.BlockSize) / f.SampleRate * float64(time.Second)),
	}
	if n.interval <= 0 {
		n.interval = time.Millisecond
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Name implements [Backend].
func (n *Null) Name() string { return NullName }

// Running implements [Backend].
func (n *Null) Running() bool { return n.running.Load() }

// Blocks returns how many blocks have been rendered.
func (n *Null) Blocks() int64 { return n.blocks.Load() }

// Run implements [Backend].
func (n *Null) Run(ctx context.Context) error {
	n.src.PrepareToPlay(n.format.BlockSize, n.format.SampleRate)
	n.running.Store(true)
	defer func() {
		n.running.Store(false)
		n.src.ReleaseResources()
	}()

	block := make([][]float32, n.format.Channels)
	for c := range block {
		block[c] = make([]float32, n.format.BlockSize)
	}

	t := time.NewTicker(n.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.src.Process(block)
			n.blocks.Add(1)
			if n.sink != nil {
				n.sink(block)
			}
		}
	}
}
