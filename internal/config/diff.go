package config

// ChangeSet describes what changed between two configs. Only fields that can
// be applied without a restart are tracked; transport and TLS changes still
// need a process restart.
type ChangeSet struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GameChanged means the match tuning block differs. New rooms pick the
	// new values up; rooms already playing keep their timers.
	GameChanged bool

	// GateChanged means the client cast-gate thresholds differ.
	GateChanged bool

	// BotChanged means the bot difficulty differs. Applies to the next
	// bot match started.
	BotChanged bool
}

// Any reports whether the change set contains any hot-reloadable change.
func (c ChangeSet) Any() bool {
	return c.LogLevelChanged || c.GameChanged || c.GateChanged || c.BotChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ChangeSet {
	d := ChangeSet{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Game != new.Game {
		d.GameChanged = true
	}
	if old.Gate != new.Gate {
		d.GateChanged = true
	}
	if old.Bot != new.Bot {
		d.BotChanged = true
	}

	return d
}
