// Package mixer provides the real-time scheduling and mixing core of
// sonichess. A [Processor] accepts voice insertion and removal requests from
// a control goroutine, schedules sample-accurate note-on, note-off and
// disposal transitions, and renders the mix of all live voices from the
// audio callback.
//
// Only three bounded single-producer/single-consumer rings cross goroutines:
// inserts and stop requests (removals and releases) flow from the control
// side to the audio side, and
// retired voices flow back so their slots can be reclaimed off the audio
// goroutine. The registry, trigger schedule and sample counter are owned by
// the audio goroutine and need no locking.
package mixer

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/sonichess/pkg/audio"
	"github.com/MrWong99/sonichess/pkg/audio/queue"
)

const (
	// DefaultQueueCapacity is the size of each command ring.
	DefaultQueueCapacity = 256

	// DefaultMaxVoices is the number of voice slots.
	DefaultMaxVoices = 256

	// DefaultChannels is the number of output channels interleaved output is
	// prepared for.
	DefaultChannels = 2

	// DefaultGain is the master gain applied to the mix.
	DefaultGain = 1.0
)

// Option configures a [Processor] during construction.
type Option func(*Processor)

// WithQueueCapacity sets the capacity of the insert and remove rings. It is
// rounded up to a power of two.
func WithQueueCapacity(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.queueCap = n
		}
	}
}

// WithMaxVoices sets the number of voice slots, i.e. how many voices may be
// registered (live, scheduled, or awaiting reclamation) at once.
func WithMaxVoices(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxVoices = n
		}
	}
}

// WithChannels sets the maximum channel count supported by
// [Processor.ProcessInterleaved].
func WithChannels(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.channels = n
		}
	}
}

// WithGain sets the initial master gain.
func WithGain(g float32) Option {
	return func(p *Processor) {
		p.SetGain(g)
	}
}

// WithRetireHook registers fn to be called on the control goroutine, from
// [Processor.Reclaim], for each voice whose slot has been reclaimed. fn must
// not call back into the Processor.
func WithRetireHook(fn func(h Handle, v audio.Voice)) Option {
	return func(p *Processor) {
		p.onRetire = fn
	}
}

// command is an insert request.
type command struct {
	handle  Handle
	voice   audio.Voice
	trigger audio.Trigger
	timed   bool
}

// stop asks the audio side to end a voice: cut it off, or with release set,
// send it a note-off and let it ring out until it reports inactive.
type stop struct {
	handle  Handle
	release bool
}

// slotState tracks a slot's lifecycle on the audio side.
type slotState uint8

const (
	slotFree slotState = iota
	// slotScheduled: inserted with a trigger, waiting for its note-on.
	slotScheduled
	// slotLive: in the registry and rendering.
	slotLive
	// slotDone: out of the registry for good; retired once pending is zero.
	slotDone
)

// slot is the audio-side view of a voice slot.
type slot struct {
	voice   audio.Voice
	gen     uint32
	pending int32 // schedule entries not yet fired
	state   slotState
}

// Stats is a point-in-time snapshot of processor counters. All fields are
// updated by the audio goroutine once per processed block.
type Stats struct {
	// Position is the sample counter after the last processed block.
	Position int64
	// Blocks is the number of Process calls that rendered audio.
	Blocks int64
	// Frames is the total number of frames rendered.
	Frames int64
	// TriggersFired counts schedule entries that reached their index.
	TriggersFired int64
	// LiveVoices is the registry size at the end of the last block.
	LiveVoices int64
	// ScheduledEntries is the number of pending schedule entries.
	ScheduledEntries int64
	// Retired counts voices handed back for reclamation.
	Retired int64
	// Evicted counts voices removed by the maintenance sweep.
	Evicted int64
}

// Processor is the scheduler and renderer. Construct it with [New].
//
// AddVoice, RemoveVoice, Reclaim and SetGain may be called from any
// goroutine; producer calls are serialised by an internal mutex that the
// audio goroutine never takes. PrepareToPlay, Process, ProcessInterleaved
// and ReleaseResources follow the host callback contract: they are called
// from one goroutine at a time, never concurrently with each other.
type Processor struct {
	queueCap  int
	maxVoices int
	channels  int
	onRetire  func(Handle, audio.Voice)

	gain atomic.Uint32 // float32 bits

	inserts *queue.Ring[command]
	stops   *queue.Ring[stop]
	retired *queue.Ring[Handle]

	// Control side.
	ctrlMu sync.Mutex
	arena  *arena

	// Audio side.
	slots   []slot
	reg     registry
	sched   schedule
	counter int64
	acc     audio.Frame
	scratch [][]float32

	prepared   atomic.Bool
	sampleRate atomic.Uint64 // float64 bits
	blockSize  atomic.Int64

	stats struct {
		position, blocks, frames, fired   atomic.Int64
		live, scheduled, retired, evicted atomic.Int64
	}
}

// New creates a [Processor]. All audio-side storage is sized here so that
// the render path never allocates.
func New(opts ...Option) *Processor {
	p := &Processor{
		queueCap:  DefaultQueueCapacity,
		maxVoices: DefaultMaxVoices,
		channels:  DefaultChannels,
	}
	p.SetGain(DefaultGain)
	for _, o := range opts {
		o(p)
	}

	p.inserts = queue.New[command](p.queueCap)
	p.stops = queue.New[stop](p.queueCap)
	// Every slot is retired at most once before it is reclaimed, so the
	// retire ring can never overflow.
	p.retired = queue.New[Handle](p.maxVoices)

	p.arena = newArena(p.maxVoices)
	p.slots = make([]slot, p.maxVoices)
	p.reg = newRegistry(p.maxVoices)
	p.sched = newSchedule(p.maxVoices)
	return p
}

// ─── Control side ────────────────────────────────────────────────────────────

// AddVoice registers v for playback. With a nil trig the voice is started and
// made live at the beginning of the next processed block and stays live
// until removed or until it reports inactive. With a trigger, its note-on,
// note-off and removal fire at the given offsets from the sample counter at
// that block.
//
// Ownership of v passes to the processor on success. AddVoice never blocks
// on the audio goroutine: it returns [audio.ErrQueueFull] or
// [audio.ErrArenaFull] when the request cannot be accepted, in which case the
// caller keeps ownership and may retry later or drop the event.
func (p *Processor) AddVoice(v audio.Voice, trig *audio.Trigger) (Handle, error) {
	if v == nil {
		return Handle{}, audio.ErrNilVoice
	}

	p.ctrlMu.Lock()
	reclaimed := p.reclaimLocked()
	h, err := p.addLocked(v, trig)
	p.ctrlMu.Unlock()

	p.notifyRetired(reclaimed)
	return h, err
}

func (p *Processor) addLocked(v audio.Voice, trig *audio.Trigger) (Handle, error) {
	h, ok := p.arena.alloc(v)
	if !ok {
		return Handle{}, fmt.Errorf("mixer: add voice: %w", audio.ErrArenaFull)
	}
	cmd := command{handle: h, voice: v}
	if trig != nil {
		cmd.trigger = *trig
		cmd.timed = true
	}
	if !p.inserts.TryEnqueue(cmd) {
		p.arena.release(h)
		return Handle{}, fmt.Errorf("mixer: add voice: %w", audio.ErrQueueFull)
	}
	return h, nil
}

// RemoveVoice requests that the voice behind h stop rendering at the start of
// the next processed block. Removing a voice before its scheduled note-on
// means it never sounds. Removing a voice that is already gone is a
// successful no-op. The zero handle yields [audio.ErrInvalidHandle].
func (p *Processor) RemoveVoice(h Handle) error {
	return p.requestStop(stop{handle: h}, "remove")
}

// ReleaseVoice sends the voice behind h a note-off at the start of the next
// processed block. The voice keeps rendering its release and is evicted once
// it reports inactive. Releasing a voice whose note-on has not fired yet
// cancels it, so it never sounds; releasing a voice that is already gone is
// a successful no-op. Releases and removals share one queue and apply in
// the order they were requested.
func (p *Processor) ReleaseVoice(h Handle) error {
	return p.requestStop(stop{handle: h, release: true}, "release")
}

func (p *Processor) requestStop(req stop, op string) error {
	if req.handle.IsZero() {
		return audio.ErrInvalidHandle
	}

	p.ctrlMu.Lock()
	defer p.ctrlMu.Unlock()

	if int(req.handle.index) >= p.arena.capacity() {
		return audio.ErrInvalidHandle
	}
	if !p.arena.owns(req.handle) {
		return nil
	}
	if !p.stops.TryEnqueue(req) {
		return fmt.Errorf("mixer: %s voice %s: %w", op, req.handle, audio.ErrQueueFull)
	}
	return nil
}

// Reclaim frees the slots of voices the audio goroutine has retired and
// returns how many were reclaimed. AddVoice reclaims opportunistically; call
// Reclaim periodically if voices are added rarely.
func (p *Processor) Reclaim() int {
	p.ctrlMu.Lock()
	reclaimed := p.reclaimLocked()
	p.ctrlMu.Unlock()

	p.notifyRetired(reclaimed)
	return len(reclaimed)
}

type retiredVoice struct {
	handle Handle
	voice  audio.Voice
}

func (p *Processor) reclaimLocked() []retiredVoice {
	var out []retiredVoice
	for {
		h, ok := p.retired.TryDequeue()
		if !ok {
			return out
		}
		v, ok := p.arena.lookup(h)
		if !ok || !p.arena.release(h) {
			continue
		}
		out = append(out, retiredVoice{handle: h, voice: v})
	}
}

func (p *Processor) notifyRetired(rs []retiredVoice) {
	if p.onRetire == nil {
		return
	}
	for _, r := range rs {
		p.onRetire(r.handle, r.voice)
	}
}

// Registered returns the number of voice slots currently in use, including
// voices awaiting reclamation.
func (p *Processor) Registered() int {
	p.ctrlMu.Lock()
	defer p.ctrlMu.Unlock()
	return p.arena.inUse()
}

// SetGain sets the master gain applied to the mix. Safe from any goroutine.
func (p *Processor) SetGain(g float32) {
	if math.IsNaN(float64(g)) || g < 0 {
		g = 0
	}
	p.gain.Store(math.Float32bits(g))
}

// Gain returns the master gain.
func (p *Processor) Gain() float32 { return math.Float32frombits(p.gain.Load()) }

// SampleRate returns the rate passed to the last PrepareToPlay, or 0.
func (p *Processor) SampleRate() float64 { return math.Float64frombits(p.sampleRate.Load()) }

// BlockSize returns the block size passed to the last PrepareToPlay, or 0.
func (p *Processor) BlockSize() int { return int(p.blockSize.Load()) }

// Prepared reports whether PrepareToPlay has been called since construction
// or the last ReleaseResources.
func (p *Processor) Prepared() bool { return p.prepared.Load() }

// Stats returns a snapshot of the processor counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Position:         p.stats.position.Load(),
		Blocks:           p.stats.blocks.Load(),
		Frames:           p.stats.frames.Load(),
		TriggersFired:    p.stats.fired.Load(),
		LiveVoices:       p.stats.live.Load(),
		ScheduledEntries: p.stats.scheduled.Load(),
		Retired:          p.stats.retired.Load(),
		Evicted:          p.stats.evicted.Load(),
	}
}

// ─── Host side ───────────────────────────────────────────────────────────────

// PrepareToPlay resets rate-dependent state and allocates block-sized scratch
// buffers. It must be called before the first Process and whenever the
// host's sample rate or block size changes.
func (p *Processor) PrepareToPlay(blockSize int, sampleRate float64) {
	blockSize = max(blockSize, 1)
	p.sampleRate.Store(math.Float64bits(sampleRate))
	p.blockSize.Store(int64(blockSize))

	p.scratch = make([][]float32, p.channels)
	for c := range p.scratch {
		p.scratch[c] = make([]float32, blockSize)
	}
	p.prepared.Store(true)
}

// ReleaseResources drops the scratch buffers. Voices, schedule and sample
// counter are kept. Safe to call multiple times.
func (p *Processor) ReleaseResources() {
	p.prepared.Store(false)
	p.scratch = nil
}

// Process renders one block into out, one slice per channel. The block length
// is the shortest channel slice. Channel 0 receives the left mix and channel
// 1 the right; a single channel and any channels beyond the second receive
// the average of both. Before PrepareToPlay, Process writes silence.
//
// Work is proportional to frames × live voices plus the number of due
// schedule entries; it never depends on how many triggers were scheduled
// historically.
func (p *Processor) Process(out [][]float32) {
	frames := blockLen(out)
	if !p.prepared.Load() {
		silence(out, frames)
		return
	}

	p.drain()
	p.sweep()

	gain := p.Gain()
	fired := 0
	due, scheduled := p.sched.next()
	for f := range frames {
		if scheduled && p.counter >= due {
			if n := p.fire(); n > 0 {
				fired += n
				p.sweep()
			}
			due, scheduled = p.sched.next()
		}

		p.acc = audio.Frame{}
		for _, s := range p.reg.members {
			p.slots[s].voice.Render(&p.acc)
		}
		l, r := p.acc.L*gain, p.acc.R*gain
		writeFrame(out, f, l, r)

		p.counter++
	}

	p.stats.position.Store(p.counter)
	p.stats.blocks.Add(1)
	p.stats.frames.Add(int64(frames))
	p.stats.fired.Add(int64(fired))
	p.stats.live.Store(int64(p.reg.len()))
	p.stats.scheduled.Store(int64(p.sched.len()))
}

// ProcessInterleaved renders into buf holding interleaved frames of channels
// samples each, in chunks of the prepared block size. Channels beyond the
// count configured with [WithChannels], or an unprepared processor, yield
// silence.
func (p *Processor) ProcessInterleaved(buf []float32, channels int) {
	if channels <= 0 {
		return
	}
	if !p.prepared.Load() || channels > len(p.scratch) {
		clear(buf)
		return
	}

	block := p.BlockSize()
	total := len(buf) / channels
	for start := 0; start < total; start += block {
		n := min(block, total-start)
		chunk := p.scratch[:channels]
		for c := range chunk {
			chunk[c] = chunk[c][:n]
		}
		p.Process(chunk)
		for i := range n {
			base := (start + i) * channels
			for c := range channels {
				buf[base+c] = chunk[c][i]
			}
		}
		for c := range chunk {
			chunk[c] = chunk[c][:block]
		}
	}
	clear(buf[total*channels:])
}

// ─── Audio side ──────────────────────────────────────────────────────────────

// drain applies every queued insert, then the stop requests that were queued
// before the inserts were drained. A stop is only ever enqueued after its
// insert, so counting the stops first guarantees each counted one finds its
// voice installed; later stops wait for the next block.
func (p *Processor) drain() {
	stops := p.stops.Len()
	for {
		cmd, ok := p.inserts.TryDequeue()
		if !ok {
			break
		}
		idx := int32(cmd.handle.index)
		s := &p.slots[idx]
		s.voice = cmd.voice
		s.gen = cmd.handle.gen
		s.pending = 0

		if !cmd.timed {
			s.state = slotLive
			s.voice.NoteOn()
			p.reg.add(idx)
			continue
		}
		s.state = slotScheduled
		s.pending = int32(numKinds)
		p.sched.add(kindOn, p.counter+int64(cmd.trigger.NoteOn), idx)
		p.sched.add(kindOff, p.counter+int64(cmd.trigger.NoteOff), idx)
		p.sched.add(kindRemove, p.counter+int64(cmd.trigger.Remove), idx)
	}

	for range stops {
		req, ok := p.stops.TryDequeue()
		if !ok {
			break
		}
		idx := int32(req.handle.index)
		s := &p.slots[idx]
		if s.state == slotFree || s.gen != req.handle.gen {
			continue
		}
		if req.release && s.state == slotLive {
			s.voice.NoteOff()
			continue
		}
		p.reg.remove(idx)
		s.state = slotDone
		p.maybeRetire(idx)
	}
}

// fire applies every schedule entry due at the current sample counter:
// note-ons first, then note-offs, then removals, so a voice started and
// stopped at the same index always hears start-then-stop.
func (p *Processor) fire() int {
	n := 0
	for kind := kindOn; kind < numKinds; kind++ {
		for {
			idx, ok := p.sched.due(kind, p.counter)
			if !ok {
				break
			}
			n++
			s := &p.slots[idx]
			s.pending--
			switch kind {
			case kindOn:
				if s.state == slotScheduled {
					s.voice.NoteOn()
					s.state = slotLive
					p.reg.add(idx)
				}
			case kindOff:
				if s.state == slotLive {
					s.voice.NoteOff()
				}
			case kindRemove:
				p.reg.remove(idx)
				s.state = slotDone
			}
			p.maybeRetire(idx)
		}
	}
	return n
}

// sweep evicts live voices that report inactive.
func (p *Processor) sweep() {
	for i := len(p.reg.members) - 1; i >= 0; i-- {
		idx := p.reg.members[i]
		s := &p.slots[idx]
		if s.voice.Active() {
			continue
		}
		p.reg.remove(idx)
		s.state = slotDone
		p.stats.evicted.Add(1)
		p.maybeRetire(idx)
	}
}

// maybeRetire hands a finished slot back to the control side once no
// schedule entry refers to it any more.
func (p *Processor) maybeRetire(idx int32) {
	s := &p.slots[idx]
	if s.state != slotDone || s.pending > 0 {
		return
	}
	h := Handle{index: uint32(idx), gen: s.gen}
	s.voice = nil
	s.state = slotFree
	// Cannot fail: the ring holds one entry per slot and a slot is not
	// reused until its handle has been dequeued.
	p.retired.TryEnqueue(h)
	p.stats.retired.Add(1)
}

// blockLen returns the shortest channel length.
func blockLen(out [][]float32) int {
	if len(out) == 0 {
		return 0
	}
	n := len(out[0])
	for _, ch := range out[1:] {
		n = min(n, len(ch))
	}
	return n
}

func silence(out [][]float32, frames int) {
	for _, ch := range out {
		clear(ch[:frames])
	}
}

func writeFrame(out [][]float32, f int, l, r float32) {
	switch len(out) {
	case 1:
		out[0][f] = (l + r) * 0.5
	default:
		out[0][f] = l
		out[1][f] = r
		for c := 2; c < len(out); c++ {
			out[c][f] = (l + r) * 0.5
		}
	}
}
