package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	GainChanged bool
	NewGain     float64

	// SonifierChanged is true if any sonifier setting changed. The running
	// sonifier must be rebuilt from NewSonifier.
	SonifierChanged bool
	NewSonifier     SonifierConfig

	// RestartRequired lists changed fields that only take effect after a
	// restart (audio device, mixer sizing, listener, feed).
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.GainChanged && !d.SonifierChanged && len(d.RestartRequired) == 0
}

// Live reports whether d carries changes the running service can apply
// without a restart.
func (d ConfigDiff) Live() bool {
	return d.LogLevelChanged || d.GainChanged || d.SonifierChanged
}

// Apply returns a copy of cfg with the hot-reloadable changes of d applied.
// Restart-only fields keep the values of cfg.
func (d ConfigDiff) Apply(cfg *Config) *Config {
	out := *cfg
	if d.LogLevelChanged {
		out.Server.LogLevel = d.NewLogLevel
	}
	if d.GainChanged {
		g := d.NewGain
		out.Audio.MasterGain = &g
	}
	if d.SonifierChanged {
		out.Sonifier = d.NewSonifier
	}
	return &out
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if og, ng := old.Audio.Gain(), new.Audio.Gain(); og != ng {
		d.GainChanged = true
		d.NewGain = ng
	}

	if old.Sonifier != new.Sonifier {
		d.SonifierChanged = true
		d.NewSonifier = new.Sonifier
	}

	oa, na := old.Audio, new.Audio
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if oa.Backend != na.Backend || oa.FallbackBackend != na.FallbackBackend || oa.FallbackRetry != na.FallbackRetry {
		d.RestartRequired = append(d.RestartRequired, "audio.backend")
	}
	if oa.SampleRate != na.SampleRate || oa.BlockSize != na.BlockSize || oa.Channels != na.Channels {
		d.RestartRequired = append(d.RestartRequired, "audio.format")
	}
	if oa.QueueCapacity != na.QueueCapacity || oa.MaxVoices != na.MaxVoices {
		d.RestartRequired = append(d.RestartRequired, "audio.capacity")
	}
	if old.Feed != new.Feed {
		d.RestartRequired = append(d.RestartRequired, "feed")
	}

	return d
}
