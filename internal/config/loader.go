package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidRecognizerNames lists the recognizer backends shipped with Arcanum.
// Used by [Validate] to warn about unrecognised names.
var ValidRecognizerNames = []string{"deepgram", "scripted"}

// validDifficulties mirrors the bot package's difficulty profiles.
var validDifficulties = []string{"easy", "medium", "hard"}

// Default values applied by [applyDefaults] for zero fields.
const (
	defaultListenAddr         = ":8080"
	defaultCountdownMs        = 3000
	defaultRoundTimeMs        = 90000
	defaultCastMinIntervalMs  = 800
	defaultQueueBotFallbackMs = 15000
	defaultHeartbeatSweepMs   = 5000
	defaultHeartbeatTimeoutMs = 12000
	defaultManaRegenPerSec    = 6
	defaultGateMinScore       = 0.45
	defaultGateMinRMS         = 0.03
	defaultGateCooldownMs     = 1500
	defaultSpeechLanguage     = "en"
	defaultSpeechSampleRate   = 16000
	defaultBotDifficulty      = "medium"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero fields with the built-in defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Game.CountdownMs == 0 {
		cfg.Game.CountdownMs = defaultCountdownMs
	}
	if cfg.Game.RoundTimeMs == 0 {
		cfg.Game.RoundTimeMs = defaultRoundTimeMs
	}
	if cfg.Game.CastMinIntervalMs == 0 {
		cfg.Game.CastMinIntervalMs = defaultCastMinIntervalMs
	}
	if cfg.Game.QueueBotFallbackMs == 0 {
		cfg.Game.QueueBotFallbackMs = defaultQueueBotFallbackMs
	}
	if cfg.Game.HeartbeatSweepMs == 0 {
		cfg.Game.HeartbeatSweepMs = defaultHeartbeatSweepMs
	}
	if cfg.Game.HeartbeatTimeoutMs == 0 {
		cfg.Game.HeartbeatTimeoutMs = defaultHeartbeatTimeoutMs
	}
	if cfg.Game.ManaRegenPerSec == 0 {
		cfg.Game.ManaRegenPerSec = defaultManaRegenPerSec
	}
	if cfg.Gate.MinScore == 0 {
		cfg.Gate.MinScore = defaultGateMinScore
	}
	if cfg.Gate.MinRMS == 0 {
		cfg.Gate.MinRMS = defaultGateMinRMS
	}
	if cfg.Gate.CooldownMs == 0 {
		cfg.Gate.CooldownMs = defaultGateCooldownMs
	}
	if cfg.Speech.Language == "" {
		cfg.Speech.Language = defaultSpeechLanguage
	}
	if cfg.Speech.SampleRate == 0 {
		cfg.Speech.SampleRate = defaultSpeechSampleRate
	}
	if cfg.Bot.Difficulty == "" {
		cfg.Bot.Difficulty = defaultBotDifficulty
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Game tuning. Negative durations are always configuration mistakes.
	for _, f := range []struct {
		name string
		ms   int
	}{
		{"game.countdown_ms", cfg.Game.CountdownMs},
		{"game.round_time_ms", cfg.Game.RoundTimeMs},
		{"game.cast_min_interval_ms", cfg.Game.CastMinIntervalMs},
		{"game.queue_bot_fallback_ms", cfg.Game.QueueBotFallbackMs},
		{"game.heartbeat_sweep_ms", cfg.Game.HeartbeatSweepMs},
		{"game.heartbeat_timeout_ms", cfg.Game.HeartbeatTimeoutMs},
	} {
		if f.ms < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", f.name, f.ms))
		}
	}
	if cfg.Game.ManaRegenPerSec < 0 {
		errs = append(errs, fmt.Errorf("game.mana_regen_per_sec must not be negative, got %d", cfg.Game.ManaRegenPerSec))
	}
	if cfg.Game.HeartbeatTimeoutMs > 0 && cfg.Game.HeartbeatSweepMs > cfg.Game.HeartbeatTimeoutMs {
		slog.Warn("heartbeat sweep interval exceeds the timeout; stale connections will linger",
			"sweep_ms", cfg.Game.HeartbeatSweepMs,
			"timeout_ms", cfg.Game.HeartbeatTimeoutMs,
		)
	}

	// Gate thresholds
	if cfg.Gate.MinScore < 0 || cfg.Gate.MinScore > 1 {
		errs = append(errs, fmt.Errorf("gate.min_score %.2f is out of range [0, 1]", cfg.Gate.MinScore))
	}
	if cfg.Gate.MinRMS < 0 || cfg.Gate.MinRMS > 1 {
		errs = append(errs, fmt.Errorf("gate.min_rms %.2f is out of range [0, 1]", cfg.Gate.MinRMS))
	}
	if cfg.Gate.CooldownMs < 0 {
		errs = append(errs, fmt.Errorf("gate.cooldown_ms must not be negative, got %d", cfg.Gate.CooldownMs))
	}

	// Speech backend
	if cfg.Speech.Name != "" && !slices.Contains(ValidRecognizerNames, cfg.Speech.Name) {
		slog.Warn("unknown recognizer name, may be a typo or out-of-tree backend",
			"name", cfg.Speech.Name,
			"known", ValidRecognizerNames,
		)
	}
	if cfg.Speech.Name == "deepgram" && cfg.Speech.APIKey == "" {
		errs = append(errs, errors.New("speech.api_key is required for the deepgram recognizer"))
	}
	if cfg.Speech.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("speech.sample_rate must not be negative, got %d", cfg.Speech.SampleRate))
	}

	// Bot
	if cfg.Bot.Difficulty != "" && !slices.Contains(validDifficulties, cfg.Bot.Difficulty) {
		errs = append(errs, fmt.Errorf("bot.difficulty %q is invalid; valid values: easy, medium, hard", cfg.Bot.Difficulty))
	}

	return errors.Join(errs...)
}
