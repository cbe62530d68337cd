// Package config provides the configuration schema, loader, hot-reload
// watcher and component registry for sonichess.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the sonichess server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the slog level it names. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultListenAddr    = ":8080"
	DefaultBackend       = "null"
	DefaultSampleRate    = 48000
	DefaultBlockSize     = 512
	DefaultChannels      = 2
	DefaultMasterGain    = 0.25
	DefaultQueueCapacity = 256
	DefaultMaxVoices     = 256
	DefaultSonifier      = "melody"
	DefaultWaveform      = "sine"
	DefaultNoteLength    = 400 * time.Millisecond
	DefaultSonifierGain  = 0.5
	DefaultFeedPath      = "/feed"
	DefaultFeedRate      = 20
	DefaultFeedBurst     = 40
)

// Config is the root configuration structure for sonichess.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Sonifier SonifierConfig `yaml:"sonifier"`
	Feed     FeedConfig     `yaml:"feed"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the output backend and sizes the mixer.
type AudioConfig struct {
	// Backend selects the output: "portaudio", "oto" or "null".
	Backend string `yaml:"backend"`

	// FallbackBackend takes over when Backend fails to open or loses its
	// device, e.g. "null" to keep the mixer running headless. Empty disables
	// the fallback.
	FallbackBackend string `yaml:"fallback_backend"`

	// FallbackRetry is how often the primary backend is tried again while
	// the fallback plays, e.g. "10s". Zero keeps the fallback.
	FallbackRetry time.Duration `yaml:"fallback_retry"`

	// SampleRate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of frames rendered per callback.
	BlockSize int `yaml:"block_size"`

	// Channels is 1 (mono) or 2 (stereo).
	Channels int `yaml:"channels"`

	// MasterGain scales the whole mix, in [0, 1]. Hot-reloadable.
	MasterGain *float64 `yaml:"master_gain"`

	// QueueCapacity is the size of each command queue between the control
	// and audio goroutines. Must be a power of two.
	QueueCapacity int `yaml:"queue_capacity"`

	// MaxVoices bounds how many voices may be registered at once.
	MaxVoices int `yaml:"max_voices"`
}

// Gain returns MasterGain or its default.
func (a AudioConfig) Gain() float64 {
	if a.MasterGain == nil {
		return DefaultMasterGain
	}
	return *a.MasterGain
}

// SonifierConfig selects and parameterises the sonifier. Hot-reloadable.
type SonifierConfig struct {
	// Name selects the sonifier: "board" or "melody".
	Name string `yaml:"name"`

	// Envelope shapes every note. Durations are in seconds.
	Envelope EnvelopeConfig `yaml:"envelope"`

	// Waveform is the default oscillator shape: sine, saw, square, triangle.
	Waveform string `yaml:"waveform"`

	// NoteLength is the time from note-on to note-off, e.g. "400ms".
	NoteLength time.Duration `yaml:"note_length"`

	// Gain scales every voice, in [0, 1].
	Gain float64 `yaml:"gain"`
}

// EnvelopeConfig holds ADSR settings.
type EnvelopeConfig struct {
	Attack  float64 `yaml:"attack"`
	Decay   float64 `yaml:"decay"`
	Sustain float64 `yaml:"sustain"`
	Release float64 `yaml:"release"`
}

// FeedConfig configures the websocket game-event feed.
type FeedConfig struct {
	// Enabled mounts the feed on the HTTP server.
	Enabled bool `yaml:"enabled"`

	// Path is the websocket endpoint, e.g. "/feed".
	Path string `yaml:"path"`

	// RatePerSecond limits events per connection.
	RatePerSecond float64 `yaml:"rate_per_second"`

	// Burst is the number of events a connection may send at once.
	Burst int `yaml:"burst"`
}

// defaultEnvelope is a short pluck.
var defaultEnvelope = EnvelopeConfig{Attack: 0.005, Decay: 0.05, Sustain: 0.7, Release: 0.2}

// ApplyDefaults fills unset fields of cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.Backend == "" {
		a.Backend = DefaultBackend
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.BlockSize == 0 {
		a.BlockSize = DefaultBlockSize
	}
	if a.Channels == 0 {
		a.Channels = DefaultChannels
	}
	if a.QueueCapacity == 0 {
		a.QueueCapacity = DefaultQueueCapacity
	}
	if a.MaxVoices == 0 {
		a.MaxVoices = DefaultMaxVoices
	}

	s := &cfg.Sonifier
	if s.Name == "" {
		s.Name = DefaultSonifier
	}
	if s.Waveform == "" {
		s.Waveform = DefaultWaveform
	}
	if s.NoteLength == 0 {
		s.NoteLength = DefaultNoteLength
	}
	if s.Gain == 0 {
		s.Gain = DefaultSonifierGain
	}
	if s.Envelope == (EnvelopeConfig{}) {
		s.Envelope = defaultEnvelope
	}

	f := &cfg.Feed
	if f.Path == "" {
		f.Path = DefaultFeedPath
	}
	if f.RatePerSecond == 0 {
		f.RatePerSecond = DefaultFeedRate
	}
	if f.Burst == 0 {
		f.Burst = DefaultFeedBurst
	}
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
