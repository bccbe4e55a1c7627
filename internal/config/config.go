// Package config provides the configuration schema, loader, and recognizer
// registry for the Arcanum duel server and client.
package config

// LogLevel controls log verbosity.
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

// Config is the root configuration structure for Arcanum.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Game   GameConfig   `yaml:"game"`
	Gate   GateConfig   `yaml:"gate"`
	Speech SpeechConfig `yaml:"speech"`
	Bot    BotConfig    `yaml:"bot"`
}

// ServerConfig holds network and logging settings for the relay server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// GameConfig holds match tuning. Durations are milliseconds, matching the
// lexicon's cooldown_ms convention. Zero values take the built-in defaults.
type GameConfig struct {
	// CountdownMs is the lobby-to-playing countdown.
	CountdownMs int `yaml:"countdown_ms"`

	// RoundTimeMs is the maximum match length before timeout resolution.
	RoundTimeMs int `yaml:"round_time_ms"`

	// CastMinIntervalMs is the server-side floor between two casts from the
	// same player.
	CastMinIntervalMs int `yaml:"cast_min_interval_ms"`

	// QueueBotFallbackMs is how long a quick-match waiter queues before being
	// paired with the bot.
	QueueBotFallbackMs int `yaml:"queue_bot_fallback_ms"`

	// HeartbeatSweepMs is the interval of the stale-connection sweeper.
	HeartbeatSweepMs int `yaml:"heartbeat_sweep_ms"`

	// HeartbeatTimeoutMs is the silence after which a connection is dropped.
	HeartbeatTimeoutMs int `yaml:"heartbeat_timeout_ms"`

	// ManaRegenPerSec is the mana regeneration rate during play.
	ManaRegenPerSec int `yaml:"mana_regen_per_sec"`
}

// GateConfig holds the client cast-gate thresholds.
type GateConfig struct {
	// MinScore is the rescorer score below which the fallback spell is used.
	MinScore float64 `yaml:"min_score"`

	// MinRMS is the raw volume threshold.
	MinRMS float64 `yaml:"min_rms"`

	// CooldownMs is the minimum time between two casts.
	CooldownMs int `yaml:"cooldown_ms"`

	// AlwaysCast enables assist mode: volume denials become reduced-power
	// casts instead of rejections.
	AlwaysCast bool `yaml:"always_cast"`

	// Hotword, when non-empty, must be spoken in every casting utterance.
	Hotword string `yaml:"hotword"`
}

// SpeechConfig selects and configures the speech recognition backend.
// The Name field is used to look up the constructor in the [Registry].
type SpeechConfig struct {
	// Name selects the registered recognizer (e.g., "deepgram", "scripted").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the recognition service if any.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model within the service (e.g., "nova-3").
	Model string `yaml:"model"`

	// Language is the BCP-47 language code for recognition.
	Language string `yaml:"language"`

	// SampleRate is the audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Options holds backend-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// BotConfig configures the server-hosted bot opponent.
type BotConfig struct {
	// Difficulty selects the bot profile: easy, medium, or hard.
	Difficulty string `yaml:"difficulty"`
}
