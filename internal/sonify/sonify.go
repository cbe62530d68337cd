// Package sonify turns chess game events into voices for the mixer.
//
// A [Sonifier] is the policy layer on the control side: it decides which
// notes a move deserves, builds oscillator voices for them and hands them to
// the mixer. Sonifiers never touch a voice after handing it over: timed notes
// carry their release in trigger offsets, sustained notes are released
// through the mixer's release path, and cut-offs go through its remove path.
package sonify

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/sonichess/internal/chess"
	"github.com/MrWong99/sonichess/internal/observe"
	"github.com/MrWong99/sonichess/pkg/audio"
	"github.com/MrWong99/sonichess/pkg/audio/envelope"
	"github.com/MrWong99/sonichess/pkg/audio/mixer"
	"github.com/MrWong99/sonichess/pkg/audio/voice"
)

// ErrInvalidEvent wraps validation failures of incoming events.
var ErrInvalidEvent = errors.New("sonify: invalid event")

// Mixer is the part of [mixer.Processor] a sonifier drives.
type Mixer interface {
	AddVoice(v audio.Voice, trig *audio.Trigger) (mixer.Handle, error)
	RemoveVoice(h mixer.Handle) error
	ReleaseVoice(h mixer.Handle) error
}

// Compile-time interface assertion.
var _ Mixer = (*mixer.Processor)(nil)

// Sonifier reacts to game events by scheduling voices.
//
// Implementations are safe for concurrent use. OnEvent never blocks on the
// audio goroutine: when the mixer refuses a voice the remaining voices of
// the event are still attempted and the refusals are returned joined, so
// callers can report dropped notes with errors.Is(err, audio.ErrQueueFull)
// and carry on.
type Sonifier interface {
	// Name returns the registry name, e.g. "board".
	Name() string

	// OnEvent sonifies e.
	OnEvent(ctx context.Context, e chess.Event) error

	// Close silences every voice the sonifier still tracks.
	Close() error
}

// Params configures the voices a sonifier builds.
type Params struct {
	// SampleRate is the rate voices render at. Must match the output.
	SampleRate float64

	// Waveform is the default oscillator shape.
	Waveform voice.Waveform

	// Envelope shapes every note.
	Envelope envelope.Params

	// NoteLength is the time from note-on to note-off of timed notes.
	NoteLength time.Duration

	// Gain scales every voice; typically in [0, 1].
	Gain float64
}

// Validate reports parameter problems joined together.
func (p Params) Validate() error {
	var errs []error
	if p.SampleRate <= 0 {
		errs = append(errs, errors.New("sample rate must be > 0"))
	}
	if p.NoteLength <= 0 {
		errs = append(errs, errors.New("note length must be > 0"))
	}
	if p.Gain < 0 {
		errs = append(errs, errors.New("gain must be >= 0"))
	}
	return errors.Join(errs...)
}

// release is the envelope release as a duration.
func (p Params) release() time.Duration {
	return time.Duration(p.Envelope.Release * float64(time.Second))
}

// Option configures a sonifier.
type Option func(*base)

// WithMetrics records voice and latency metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *base) { b.metrics = m }
}

// WithClock replaces time.Now for expiring tracked voices.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithRand makes random choices, such as pan positions, deterministic.
func WithRand(r *rand.Rand) Option {
	return func(b *base) { b.rng = r }
}

// base carries what every sonifier needs: the mixer, parameters, telemetry
// and the set of voices that may still be sounding.
type base struct {
	name    string
	mix     Mixer
	params  Params
	metrics *observe.Metrics
	now     func() time.Time

	mu      sync.Mutex
	tracked []tracked
	held    []mixer.Handle // sustained until released
	rng     *rand.Rand
}

type tracked struct {
	handle mixer.Handle
	until  time.Time
}

func newBase(name string, m Mixer, p Params, opts []Option) (*base, error) {
	if m == nil {
		return nil, fmt.Errorf("sonify: %s: mixer is nil", name)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("sonify: %s: %w", name, err)
	}
	b := &base{name: name, mix: m, params: p, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return b, nil
}

// Name implements [Sonifier].
func (b *base) Name() string { return b.name }

// begin opens the span and timer around one event.
func (b *base) begin(ctx context.Context, e chess.Event) (context.Context, trace.Span, time.Time) {
	ctx, span := observe.StartSpan(ctx, "sonify."+b.name,
		trace.WithAttributes(
			attribute.String("event.kind", string(e.Kind)),
			attribute.String("piece", e.Piece.String()),
			attribute.String("to", e.To.String()),
		),
	)
	return ctx, span, time.Now()
}

// end closes what begin opened.
func (b *base) end(ctx context.Context, span trace.Span, start time.Time, err error) {
	b.metrics.SonifyDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("sonifier", b.name)),
	)
	observe.EndSpan(span, err)
}

// validate rejects events no sonifier can play.
func (b *base) validate(e chess.Event) error {
	if err := chess.Validate(e); err != nil {
		return fmt.Errorf("%w for %s: %w", ErrInvalidEvent, b.name, err)
	}
	return nil
}

// note is one voice a sonifier wants to play.
type note struct {
	waveform  voice.Waveform
	frequency float64
	gain      float64
	pan       float64
	// at is the onset relative to now; length is the time to note-off.
	// A zero length sustains the note until [base.releaseHeld].
	at     time.Duration
	length time.Duration
}

// play builds and schedules n. Timed voices are tracked until their removal
// trigger should have fired; sustained voices are held until released.
func (b *base) play(ctx context.Context, n note) error {
	osc, err := voice.NewOscillator(voice.Params{
		Waveform:   n.waveform,
		Frequency:  n.frequency,
		Gain:       n.gain * b.params.Gain,
		Pan:        n.pan,
		Envelope:   b.params.Envelope,
		SampleRate: b.params.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("sonify: %s: %w", b.name, err)
	}

	var (
		trig *audio.Trigger
		end  time.Duration
	)
	if n.length > 0 {
		off := n.at + n.length
		end = off + b.params.release()
		t := audio.TriggerAfter(b.params.SampleRate, n.at, off, end)
		trig = &t
	}
	h, err := b.mix.AddVoice(osc, trig)
	if err != nil {
		b.metrics.RecordVoiceRejected(ctx, rejectReason(err))
		return fmt.Errorf("sonify: %s: %w", b.name, err)
	}
	b.metrics.RecordVoice(ctx, b.name)

	b.mu.Lock()
	if trig == nil {
		b.held = append(b.held, h)
	} else {
		b.tracked = append(b.tracked, tracked{handle: h, until: b.now().Add(end)})
	}
	b.mu.Unlock()
	return nil
}

// releaseHeld sends every sustained voice a note-off. Released voices ring
// out for the envelope release and are tracked until then. Voices the mixer
// had no room to release stay held and are retried next time.
func (b *base) releaseHeld() error {
	b.mu.Lock()
	held := b.held
	b.held = nil
	b.mu.Unlock()

	until := b.now().Add(b.params.release())
	var (
		errs  []error
		kept  []mixer.Handle
		freed []tracked
	)
	for _, h := range held {
		if err := b.mix.ReleaseVoice(h); err != nil {
			kept = append(kept, h)
			errs = append(errs, fmt.Errorf("sonify: %s: release %s: %w", b.name, h, err))
			continue
		}
		freed = append(freed, tracked{handle: h, until: until})
	}

	b.mu.Lock()
	b.held = append(kept, b.held...)
	b.tracked = append(b.tracked, freed...)
	b.mu.Unlock()
	return errors.Join(errs...)
}

// prune forgets voices whose removal trigger has passed.
func (b *base) prune() {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.tracked[:0]
	for _, t := range b.tracked {
		if t.until.After(now) {
			kept = append(kept, t)
		}
	}
	clear(b.tracked[len(kept):])
	b.tracked = kept
}

// silence removes every held and tracked voice from the mixer.
func (b *base) silence() error {
	b.mu.Lock()
	handles := b.held
	for _, t := range b.tracked {
		handles = append(handles, t.handle)
	}
	b.held, b.tracked = nil, nil
	b.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := b.mix.RemoveVoice(h); err != nil {
			errs = append(errs, fmt.Errorf("sonify: %s: remove %s: %w", b.name, h, err))
		}
	}
	return errors.Join(errs...)
}

// intN returns a random index below n.
func (b *base) intN(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.IntN(n)
}

// Tracked returns how many voices may still be sounding, held ones included.
func (b *base) Tracked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tracked) + len(b.held)
}

// Held returns how many sustained voices wait for their release.
func (b *base) Held() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.held)
}

// Close implements [Sonifier].
func (b *base) Close() error { return b.silence() }

func rejectReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrQueueFull):
		return observe.ReasonQueueFull
	case errors.Is(err, audio.ErrArenaFull):
		return observe.ReasonArenaFull
	default:
		return observe.ReasonOther
	}
}

// Dropped reports whether err includes voices the mixer had no room for.
func Dropped(err error) bool {
	return errors.Is(err, audio.ErrQueueFull) || errors.Is(err, audio.ErrArenaFull)
}
