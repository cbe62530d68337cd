package config_test

import (
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/sonichess/internal/config"
)

func gain(g float64) *float64 { return &g }

func TestDiff(t *testing.T) {
	t.Parallel()

	t.Run("identical configs", func(t *testing.T) {
		t.Parallel()
		d := config.Diff(config.Default(), config.Default())
		if !d.Empty() {
			t.Errorf("expected empty diff, got %+v", d)
		}
	})

	t.Run("log level", func(t *testing.T) {
		t.Parallel()
		old, new := config.Default(), config.Default()
		new.Server.LogLevel = config.LogWarn
		d := config.Diff(old, new)
		if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
			t.Errorf("got %+v", d)
		}
		if d.GainChanged || d.SonifierChanged {
			t.Errorf("unexpected changes: %+v", d)
		}
	})

	t.Run("explicit default gain is not a change", func(t *testing.T) {
		t.Parallel()
		old, new := config.Default(), config.Default()
		new.Audio.MasterGain = gain(config.DefaultMasterGain)
		if d := config.Diff(old, new); d.GainChanged {
			t.Errorf("got %+v", d)
		}
	})

	t.Run("gain", func(t *testing.T) {
		t.Parallel()
		old, new := config.Default(), config.Default()
		new.Audio.MasterGain = gain(0)
		d := config.Diff(old, new)
		if !d.GainChanged || d.NewGain != 0 {
			t.Errorf("got %+v", d)
		}
	})

	t.Run("sonifier", func(t *testing.T) {
		t.Parallel()
		old, new := config.Default(), config.Default()
		new.Sonifier.NoteLength = time.Second
		d := config.Diff(old, new)
		if !d.SonifierChanged || d.NewSonifier.NoteLength != time.Second {
			t.Errorf("got %+v", d)
		}
	})

	t.Run("restart required", func(t *testing.T) {
		t.Parallel()
		old, new := config.Default(), config.Default()
		new.Audio.Backend = "oto"
		new.Audio.SampleRate = 44100
		new.Feed.Enabled = true
		d := config.Diff(old, new)
		want := []string{"audio.backend", "audio.format", "feed"}
		if !slices.Equal(d.RestartRequired, want) {
			t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
		}
		if d.Empty() {
			t.Error("diff should not be empty")
		}
	})
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.SlogLevel(); got != tt.want {
			t.Errorf("%q.SlogLevel(): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigDiff_Apply(t *testing.T) {
	t.Parallel()
	running := config.Default()
	edited := config.Default()
	edited.Server.LogLevel = config.LogDebug
	edited.Server.ListenAddr = ":9999"
	edited.Audio.MasterGain = gain(0.7)
	edited.Audio.SampleRate = 44100
	edited.Sonifier.Name = "board"

	d := config.Diff(running, edited)
	if !d.Live() {
		t.Fatalf("Live(): got false for %+v", d)
	}
	got := d.Apply(running)

	if got.Server.LogLevel != config.LogDebug || got.Audio.Gain() != 0.7 || got.Sonifier.Name != "board" {
		t.Errorf("live fields not applied: %+v", got)
	}
	if got.Server.ListenAddr != running.Server.ListenAddr || got.Audio.SampleRate != running.Audio.SampleRate {
		t.Errorf("restart fields changed: listen=%q rate=%d", got.Server.ListenAddr, got.Audio.SampleRate)
	}
	if running.Server.LogLevel == config.LogDebug {
		t.Error("Apply modified its input")
	}
	if rest := config.Diff(running, got); len(rest.RestartRequired) != 0 {
		t.Errorf("applied config differs in restart fields %v", rest.RestartRequired)
	}

	if (config.ConfigDiff{RestartRequired: []string{"feed"}}).Live() {
		t.Error("Live(): got true for a restart-only diff")
	}
}
