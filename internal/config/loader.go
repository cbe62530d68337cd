package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"
)

// ValidNames lists the known component names per kind.
// Used by [Validate] to reject unknown names with a suggestion.
var ValidNames = map[string][]string{
	"backend":  {"portaudio", "oto", "null"},
	"sonifier": {"board", "melody"},
	"waveform": {"sine", "saw", "square", "triangle"},
}

// suggestThreshold is the minimum Jaro-Winkler similarity for a
// "did you mean" hint.
const suggestThreshold = 0.7

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Validate expects defaults to have been applied.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if err := validateName("audio.backend", "backend", a.Backend); err != nil {
		errs = append(errs, err)
	}
	if a.FallbackBackend != "" {
		if err := validateName("audio.fallback_backend", "backend", a.FallbackBackend); err != nil {
			errs = append(errs, err)
		} else if a.FallbackBackend == a.Backend {
			errs = append(errs, fmt.Errorf("audio.fallback_backend %q must differ from audio.backend", a.FallbackBackend))
		}
	}
	if a.FallbackRetry < 0 {
		errs = append(errs, fmt.Errorf("audio.fallback_retry %s must not be negative", a.FallbackRetry))
	}
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", a.SampleRate))
	}
	if a.BlockSize < 1 || a.BlockSize > 8192 {
		errs = append(errs, fmt.Errorf("audio.block_size %d is out of range [1, 8192]", a.BlockSize))
	}
	if a.Channels != 1 && a.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", a.Channels))
	}
	if g := a.Gain(); math.IsNaN(g) || g < 0 || g > 1 {
		errs = append(errs, fmt.Errorf("audio.master_gain %.2f is out of range [0, 1]", g))
	}
	if a.QueueCapacity < 2 || a.QueueCapacity&(a.QueueCapacity-1) != 0 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity %d must be a power of two >= 2", a.QueueCapacity))
	}
	if a.MaxVoices < 1 {
		errs = append(errs, fmt.Errorf("audio.max_voices %d must be >= 1", a.MaxVoices))
	}

	// Sonifier
	errs = append(errs, validateSonifier(cfg.Sonifier)...)

	// Feed
	f := cfg.Feed
	if f.Enabled {
		if !strings.HasPrefix(f.Path, "/") {
			errs = append(errs, fmt.Errorf("feed.path %q must start with /", f.Path))
		}
		if f.RatePerSecond <= 0 {
			errs = append(errs, fmt.Errorf("feed.rate_per_second %.2f must be > 0", f.RatePerSecond))
		}
		if f.Burst < 1 {
			errs = append(errs, fmt.Errorf("feed.burst %d must be >= 1", f.Burst))
		}
	}

	if a.MaxVoices < 64 && cfg.Sonifier.Name == "board" {
		slog.Warn("audio.max_voices is below the 32 voices a full board needs per move; overlapping positions will drop notes",
			"max_voices", a.MaxVoices)
	}

	return errors.Join(errs...)
}

func validateSonifier(s SonifierConfig) []error {
	var errs []error
	if err := validateName("sonifier.name", "sonifier", s.Name); err != nil {
		errs = append(errs, err)
	}
	if err := validateName("sonifier.waveform", "waveform", s.Waveform); err != nil {
		errs = append(errs, err)
	}
	if s.NoteLength <= 0 {
		errs = append(errs, fmt.Errorf("sonifier.note_length %s must be > 0", s.NoteLength))
	}
	if s.Gain < 0 || s.Gain > 1 {
		errs = append(errs, fmt.Errorf("sonifier.gain %.2f is out of range [0, 1]", s.Gain))
	}
	e := s.Envelope
	for _, v := range []struct {
		field string
		val   float64
	}{
		{"attack", e.Attack},
		{"decay", e.Decay},
		{"release", e.Release},
	} {
		if v.val < 0 {
			errs = append(errs, fmt.Errorf("sonifier.envelope.%s %.3f must be >= 0", v.field, v.val))
		}
	}
	if e.Sustain < 0 || e.Sustain > 1 {
		errs = append(errs, fmt.Errorf("sonifier.envelope.sustain %.2f is out of range [0, 1]", e.Sustain))
	}
	return errs
}

// validateName rejects names that are not listed in [ValidNames] for kind,
// suggesting the closest known name when one is similar enough.
func validateName(field, kind, name string) error {
	valid := ValidNames[kind]
	if slices.Contains(valid, name) {
		return nil
	}
	if s := Suggest(name, valid); s != "" {
		return fmt.Errorf("%s %q is not known; did you mean %q?", field, name, s)
	}
	return fmt.Errorf("%s %q is not known; valid values: %s", field, name, strings.Join(valid, ", "))
}

// Suggest returns the candidate most similar to name, or "" when none is
// similar enough to be a likely typo.
func Suggest(name string, candidates []string) string {
	best, bestScore := "", suggestThreshold
	lower := strings.ToLower(name)
	for _, c := range candidates {
		if score := matchr.JaroWinkler(lower, c, false); score >= bestScore {
			best, bestScore = c, score
		}
	}
	return best
}
