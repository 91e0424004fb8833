package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ReasoningSettings configures the reasoning-service client.
type ReasoningSettings struct {
	Provider       string            `yaml:"provider"`        // anthropic | mock
	BaseURL        string            `yaml:"base_url"`        // empty = provider default
	APIKeyEnv      string            `yaml:"api_key_env"`     // env var holding the key
	Models         map[string]string `yaml:"models"`          // tier -> model id
	MaxTokens      int               `yaml:"max_tokens"`      // per-call output ceiling
	TimeoutSeconds int               `yaml:"timeout_seconds"` // per-call HTTP timeout
}

// ChatSettings configures the chat transport.
type ChatSettings struct {
	Transport       string `yaml:"transport"` // slack | webhook | console
	DefaultChannel  string `yaml:"default_channel"`
	BriefingChannel string `yaml:"briefing_channel"`
	AppTokenEnv     string `yaml:"app_token_env"` // Slack socket-mode app token
	BotTokenEnv     string `yaml:"bot_token_env"` // Slack Web API bot token
	WebhookURLEnv   string `yaml:"webhook_url_env"`
}

// CostSettings holds the $/Mtok rates used by the usage estimate.
type CostSettings struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// Settings is the daemon configuration loaded from <home>/settings.yaml.
// Every field has a working default; a missing file yields Default().
type Settings struct {
	DailyHour     int    `yaml:"daily_hour"`   // local hour the daily cycle fires
	DailyMinute   int    `yaml:"daily_minute"` //
	Timezone      string `yaml:"timezone"`     // IANA name; empty = local
	TickSeconds   int    `yaml:"tick_seconds"` // scheduler tick interval
	MaxConcurrent int    `yaml:"max_concurrent"`
	RetryCeiling  int    `yaml:"retry_ceiling"`
	ContextBudget int    `yaml:"context_budget"` // tokens of memory per run

	Reasoning ReasoningSettings `yaml:"reasoning"`
	Chat      ChatSettings      `yaml:"chat"`
	Cost      CostSettings      `yaml:"cost"`
}

// Default returns settings matching a fresh install.
func Default() Settings {
	return Settings{
		DailyHour:     7,
		DailyMinute:   0,
		TickSeconds:   120,
		MaxConcurrent: 3,
		RetryCeiling:  3,
		ContextBudget: 6000,
		Reasoning: ReasoningSettings{
			Provider:  "anthropic",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Models: map[string]string{
				"opus":   "claude-opus-4-5-20250514",
				"sonnet": "claude-sonnet-4-5-20250514",
				"haiku":  "claude-haiku-3-5-20241022",
			},
			MaxTokens:      4096,
			TimeoutSeconds: 120,
		},
		Chat: ChatSettings{
			Transport:       "console",
			DefaultChannel:  "general",
			BriefingChannel: "briefings",
			AppTokenEnv:     "SLACK_APP_TOKEN",
			BotTokenEnv:     "SLACK_BOT_TOKEN",
			WebhookURLEnv:   "SLACK_WEBHOOK_URL",
		},
		Cost: CostSettings{InputPerMTok: 3.0, OutputPerMTok: 15.0},
	}
}

// SettingsPath returns <home>/settings.yaml.
func SettingsPath(home string) string {
	return filepath.Join(home, "settings.yaml")
}

// LoadSettings reads <home>/settings.yaml over the defaults. A missing file
// is not an error; a malformed one is.
func LoadSettings(home string) (Settings, error) {
	s := Default()
	data, err := os.ReadFile(SettingsPath(home))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse %s: %w", SettingsPath(home), err)
	}
	if err := s.validate(); err != nil {
		return s, fmt.Errorf("%s: %w", SettingsPath(home), err)
	}
	return s, nil
}

func (s Settings) validate() error {
	if s.DailyHour < 0 || s.DailyHour > 23 {
		return fmt.Errorf("daily_hour %d out of range", s.DailyHour)
	}
	if s.DailyMinute < 0 || s.DailyMinute > 59 {
		return fmt.Errorf("daily_minute %d out of range", s.DailyMinute)
	}
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1")
	}
	if s.RetryCeiling < 1 {
		return fmt.Errorf("retry_ceiling must be >= 1")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	return nil
}

// Tick returns the scheduler tick interval.
func (s Settings) Tick() time.Duration {
	if s.TickSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(s.TickSeconds) * time.Second
}

// Location resolves the configured timezone, defaulting to time.Local.
func (s Settings) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ModelFor resolves a model tier to a concrete model id.
func (s Settings) ModelFor(tier string) string {
	if m, ok := s.Reasoning.Models[tier]; ok && m != "" {
		return m
	}
	return s.Reasoning.Models["sonnet"]
}
