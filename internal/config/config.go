// Package config loads and saves the chatguard configuration. The config
// lives in a JSON file that is created with defaults on first run, so
// operators always have a complete file to edit.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gameforge/chatguard/internal/spam"
)

// Config is the full set of tunable moderation parameters.
type Config struct {
	// Spam scoring.
	WindowSeconds int     `json:"window_seconds"`
	RepeatWeight  float64 `json:"repeat_weight"`
	CapsWeight    float64 `json:"caps_weight"`
	ShortWeight   float64 `json:"short_weight"`
	NormalWeight  float64 `json:"normal_weight"`
	CommandWeight float64 `json:"command_weight"`
	CapsRatio     float64 `json:"caps_ratio"`
	ShortLength   int     `json:"short_length"`
	WarnThreshold float64 `json:"warn_threshold"`
	KickThreshold float64 `json:"kick_threshold"`

	// Operator-facing text.
	SpamWarningMessage string `json:"spam_warning_message"`
	SpamKickReason     string `json:"spam_kick_reason"`

	// Cosmetics.
	MaxPrefixLength int `json:"max_prefix_length"`
	MaxSuffixLength int `json:"max_suffix_length"`

	// Broadcast template. Placeholders: {group}, {prefix}, {name},
	// {suffix}, {message}.
	ChatFormat string `json:"chat_format"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		WindowSeconds:      5,
		RepeatWeight:       4.0,
		CapsWeight:         2.0,
		ShortWeight:        1.5,
		NormalWeight:       1.0,
		CommandWeight:      1.0,
		CapsRatio:          0.6,
		ShortLength:        4,
		WarnThreshold:      5.0,
		KickThreshold:      11.0,
		SpamWarningMessage: "You have been ignored for spamming.",
		SpamKickReason:     "Spamming.",
		MaxPrefixLength:    100,
		MaxSuffixLength:    100,
		ChatFormat:         "{prefix}{name}{suffix}: {message}",
	}
}

// ScorerConfig converts the relevant fields into a spam.Config.
func (c Config) ScorerConfig() spam.Config {
	return spam.Config{
		Window:        time.Duration(c.WindowSeconds) * time.Second,
		RepeatWeight:  c.RepeatWeight,
		CapsWeight:    c.CapsWeight,
		ShortWeight:   c.ShortWeight,
		NormalWeight:  c.NormalWeight,
		CommandWeight: c.CommandWeight,
		CapsRatio:     c.CapsRatio,
		ShortLength:   c.ShortLength,
		WarnThreshold: c.WarnThreshold,
		KickThreshold: c.KickThreshold,
	}
}

// ReadOrCreate loads the config from path. If the file does not exist, the
// defaults are written there and returned.
func ReadOrCreate(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default() // missing fields keep their defaults
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path as indented JSON.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
