// Package envelope provides the ADSR amplitude envelope used by sonichess
// voices.
package envelope

// epsilon absorbs floating-point drift when a linear segment reaches its
// target.
const epsilon = 1e-9

// Stage identifies the current segment of an [ADSR] envelope.
type Stage int

const (
	StageIdle Stage = iota
	StageAttack
	StageDecay
	StageSustain
	StageRelease
)

// String returns the human-readable name of the stage.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "IDLE"
	case StageAttack:
		return "ATTACK"
	case StageDecay:
		return "DECAY"
	case StageSustain:
		return "SUSTAIN"
	case StageRelease:
		return "RELEASE"
	default:
		return "UNKNOWN"
	}
}

// Params configures an [ADSR]. Attack, Decay and Release are durations in
// seconds; Sustain is a level in [0, 1]. A zero duration makes the segment
// instantaneous.
type Params struct {
	Attack  float64 `yaml:"attack"`
	Decay   float64 `yaml:"decay"`
	Sustain float64 `yaml:"sustain"`
	Release float64 `yaml:"release"`
}

// ADSR is a linear attack/decay/sustain/release envelope advanced one sample
// at a time. It is not safe for concurrent use; a voice owns its envelope.
type ADSR struct {
	params     Params
	sampleRate float64

	attackRate  float64
	decayRate   float64
	releaseRate float64

	stage Stage
	level float64
}

// New returns an idle envelope for the given sample rate.
func New(sampleRate float64, p Params) *ADSR {
	e := &ADSR{sampleRate: sampleRate}
	e.SetParams(p)
	return e
}

// SetParams replaces the envelope parameters. Negative durations are treated
// as zero and the sustain level is clamped to [0, 1].
func (e *ADSR) SetParams(p Params) {
	p.Attack = max(p.Attack, 0)
	p.Decay = max(p.Decay, 0)
	p.Release = max(p.Release, 0)
	p.Sustain = min(max(p.Sustain, 0), 1)
	e.params = p

	e.attackRate = rate(1, p.Attack, e.sampleRate)
	e.decayRate = rate(1-p.Sustain, p.Decay, e.sampleRate)
	e.releaseRate = rate(p.Sustain, p.Release, e.sampleRate)
}

// Params returns the current parameters.
func (e *ADSR) Params() Params { return e.params }

// Trigger starts the attack from the current level, so retriggering a
// sounding envelope does not click.
func (e *ADSR) Trigger() {
	switch {
	case e.attackRate > 0:
		e.stage = StageAttack
	case e.decayRate > 0:
		e.level = 1
		e.stage = StageDecay
	default:
		e.level = e.params.Sustain
		e.stage = StageSustain
	}
}

// Release enters the release stage from whatever level the envelope is at.
// Releasing an idle envelope is a no-op.
func (e *ADSR) Release() {
	if e.stage == StageIdle {
		return
	}
	if e.params.Release > 0 && e.level > 0 {
		e.releaseRate = e.level / (e.params.Release * e.sampleRate)
		e.stage = StageRelease
		return
	}
	e.reset()
}

// Next advances the envelope by one sample and returns the level to apply to
// that sample.
func (e *ADSR) Next() float64 {
	switch e.stage {
	case StageAttack:
		e.level += e.attackRate
		if e.level >= 1-epsilon {
			e.level = 1
			if e.decayRate > 0 {
				e.stage = StageDecay
			} else {
				e.level = e.params.Sustain
				e.stage = StageSustain
			}
		}
	case StageDecay:
		e.level -= e.decayRate
		if e.level <= e.params.Sustain+epsilon {
			e.level = e.params.Sustain
			e.stage = StageSustain
		}
	case StageRelease:
		e.level -= e.releaseRate
		if e.level <= epsilon {
			e.reset()
		}
	}
	return e.level
}

// Stage returns the current stage.
func (e *ADSR) Stage() Stage { return e.stage }

// Level returns the most recent envelope level.
func (e *ADSR) Level() float64 { return e.level }

// Done reports whether the envelope is idle, i.e. it was never triggered or
// its release has fully decayed.
func (e *ADSR) Done() bool { return e.stage == StageIdle }

func (e *ADSR) reset() {
	e.level = 0
	e.stage = StageIdle
}

// rate returns the per-sample increment that covers distance in seconds, or
// zero for an instantaneous segment.
func rate(distance, seconds, sampleRate float64) float64 {
	if seconds <= 0 || sampleRate <= 0 {
		return 0
	}
	return distance / (seconds * sampleRate)
}
