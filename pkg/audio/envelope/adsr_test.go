package envelope_test

import (
	"math"
	"testing"

	"github.com/MrWong99/sonichess/pkg/audio/envelope"
)

// advance steps e n times and returns the last level.
func advance(e *envelope.ADSR, n int) float64 {
	var v float64
	for range n {
		v = e.Next()
	}
	return v
}

func TestADSR_IdleUntilTriggered(t *testing.T) {
	t.Parallel()

	e := envelope.New(1000, envelope.Params{Attack: 0.01, Decay: 0.01, Sustain: 0.5, Release: 0.01})
	if !e.Done() {
		t.Fatal("new envelope should be done (idle)")
	}
	if v := advance(e, 5); v != 0 {
		t.Fatalf("idle envelope level = %f, want 0", v)
	}
}

func TestADSR_FullCycle(t *testing.T) {
	t.Parallel()

	// 10 samples per segment at 1 kHz.
	e := envelope.New(1000, envelope.Params{Attack: 0.01, Decay: 0.01, Sustain: 0.5, Release: 0.01})
	e.Trigger()
	if e.Stage() != envelope.StageAttack {
		t.Fatalf("stage after Trigger = %v, want ATTACK", e.Stage())
	}

	if v := advance(e, 10); math.Abs(v-1) > 1e-9 {
		t.Fatalf("level after attack = %f, want 1", v)
	}
	if e.Stage() != envelope.StageDecay {
		t.Fatalf("stage after attack = %v, want DECAY", e.Stage())
	}

	if v := advance(e, 10); math.Abs(v-0.5) > 1e-9 {
		t.Fatalf("level after decay = %f, want 0.5", v)
	}
	if e.Stage() != envelope.StageSustain {
		t.Fatalf("stage after decay = %v, want SUSTAIN", e.Stage())
	}

	if v := advance(e, 100); v != 0.5 {
		t.Fatalf("sustain level = %f, want 0.5", v)
	}

	e.Release()
	if e.Stage() != envelope.StageRelease {
		t.Fatalf("stage after Release = %v, want RELEASE", e.Stage())
	}
	advance(e, 10)
	if !e.Done() {
		t.Fatalf("envelope not done after release, stage %v level %f", e.Stage(), e.Level())
	}
}

func TestADSR_InstantSegments(t *testing.T) {
	t.Parallel()

	e := envelope.New(48000, envelope.Params{Sustain: 0.8})
	e.Trigger()
	if e.Stage() != envelope.StageSustain {
		t.Fatalf("stage = %v, want SUSTAIN", e.Stage())
	}
	if v := e.Next(); v != 0.8 {
		t.Fatalf("level = %f, want 0.8", v)
	}
	e.Release()
	if !e.Done() {
		t.Fatal("zero-release envelope should be done immediately")
	}
}

func TestADSR_ReleaseFromAttack(t *testing.T) {
	t.Parallel()

	e := envelope.New(1000, envelope.Params{Attack: 0.1, Sustain: 1, Release: 0.01})
	e.Trigger()
	peak := advance(e, 50) // halfway through the attack
	e.Release()
	v := e.Next()
	if v >= peak {
		t.Fatalf("release did not start decaying: %f >= %f", v, peak)
	}
	advance(e, 10)
	if !e.Done() {
		t.Fatal("envelope should finish release within its release time")
	}
}

func TestADSR_ReleaseIdleIsNoop(t *testing.T) {
	t.Parallel()

	e := envelope.New(1000, envelope.Params{Release: 1})
	e.Release()
	if e.Stage() != envelope.StageIdle {
		t.Fatalf("stage = %v, want IDLE", e.Stage())
	}
}

func TestADSR_ClampsParams(t *testing.T) {
	t.Parallel()

	e := envelope.New(1000, envelope.Params{Attack: -1, Decay: -1, Sustain: 3, Release: -1})
	p := e.Params()
	if p.Attack != 0 || p.Decay != 0 || p.Release != 0 || p.Sustain != 1 {
		t.Fatalf("Params() = %+v, want zero durations and sustain 1", p)
	}
}

func TestStage_String(t *testing.T) {
	t.Parallel()

	if got := envelope.StageRelease.String(); got != "RELEASE" {
		t.Errorf("StageRelease.String() = %q", got)
	}
	if got := envelope.Stage(42).String(); got != "UNKNOWN" {
		t.Errorf("Stage(42).String() = %q", got)
	}
}
