// Package config provides YAML-based configuration loading for waybot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level waybot configuration, loaded from config.yaml.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Bot       BotConfig       `yaml:"bot"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	AI        AIConfig        `yaml:"ai"`
	Backend   BackendConfig   `yaml:"backend"`
	Directory DirectoryConfig `yaml:"directory"`
	Session   SessionConfig   `yaml:"session"`
	Messages  MessagesConfig  `yaml:"messages"`
	API       APIConfig       `yaml:"api"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	Stage   string `yaml:"stage"`    // "development" or "production"
	DataDir string `yaml:"data_dir"` // directory for the embedded chat database
}

// BotConfig identifies the WhatsApp account the bot runs as.
type BotConfig struct {
	Enabled bool   `yaml:"enabled"`
	Phone   string `yaml:"phone"` // bot's own number, e.g. "628123456789"
}

// BridgeConfig holds connection settings for the wa-automate HTTP bridge.
type BridgeConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// AIConfig holds the OpenAI-compatible endpoint used for classification,
// filtering and message splitting.
type AIConfig struct {
	BaseURL       string `yaml:"base_url"` // empty for api.openai.com
	APIKey        string `yaml:"api_key"`
	ClassifyModel string `yaml:"classify_model"`
	FilterModel   string `yaml:"filter_model"`
	SplitModel    string `yaml:"split_model"`
}

// BackendConfig holds the fleet-telematics chat backend endpoint.
type BackendConfig struct {
	ChatEndpoint string `yaml:"chat_endpoint"`
}

// DirectoryConfig selects how inbound phone identities are resolved to
// backend API tokens: through the remote SQL-over-HTTP proxy or a direct
// MySQL connection to the telematics user database.
type DirectoryConfig struct {
	Mode      string      `yaml:"mode"` // "http" or "mysql"
	QueryURL  string      `yaml:"query_url"`
	MySQL     MySQLConfig `yaml:"mysql"`
	MaxTokens int         `yaml:"max_tokens"` // accounts consulted per question
}

// MySQLConfig holds direct-connection settings for directory mode "mysql".
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// SessionConfig holds the session lifecycle timers, in seconds.
type SessionConfig struct {
	InactivityWarningSeconds int `yaml:"inactivity_warning_seconds"`
	InactivityEndSeconds     int `yaml:"inactivity_end_seconds"`
	ForcedDurationSeconds    int `yaml:"forced_duration_seconds"`
	ForcedWarningLeadSeconds int `yaml:"forced_warning_lead_seconds"`
	HandoverCooldownSeconds  int `yaml:"handover_cooldown_seconds"`
}

// InactivityWarning returns the inactivity warning interval.
func (s SessionConfig) InactivityWarning() time.Duration {
	return time.Duration(s.InactivityWarningSeconds) * time.Second
}

// InactivityEnd returns the total inactivity interval before a session ends.
func (s SessionConfig) InactivityEnd() time.Duration {
	return time.Duration(s.InactivityEndSeconds) * time.Second
}

// ForcedDuration returns the hard ceiling on session length.
func (s SessionConfig) ForcedDuration() time.Duration {
	return time.Duration(s.ForcedDurationSeconds) * time.Second
}

// ForcedWarningLead returns how long before the forced end the warning fires.
func (s SessionConfig) ForcedWarningLead() time.Duration {
	return time.Duration(s.ForcedWarningLeadSeconds) * time.Second
}

// HandoverCooldown returns how long the agent stays disabled after handover.
func (s SessionConfig) HandoverCooldown() time.Duration {
	return time.Duration(s.HandoverCooldownSeconds) * time.Second
}

// MessagesConfig holds user-facing message toggles and texts. All the
// optional messages default to disabled, matching the deployed bot.
type MessagesConfig struct {
	SingleOutput bool `yaml:"single_output"` // reply-only or report-only per turn

	UseWaiting bool   `yaml:"use_waiting"`
	Waiting    string `yaml:"waiting"`

	UseWarning         bool   `yaml:"use_warning"`
	InactivityWarning  string `yaml:"inactivity_warning"`
	ForcedWarning      string `yaml:"forced_warning"`
	UseEnd             bool   `yaml:"use_end"`
	End                string `yaml:"end"`
	UseError           bool   `yaml:"use_error"`
	Error              string `yaml:"error"`
	Handover           string `yaml:"handover"`
	ReportPlaceholder  string `yaml:"report_placeholder"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Port int `yaml:"port"`
}

// NotifyConfig holds alert fan-out and operator notification settings.
type NotifyConfig struct {
	AlertCron   string   `yaml:"alert_cron"` // 5-field cron expression; empty disables
	Subscribers []string `yaml:"subscribers"`

	SlackToken   string `yaml:"slack_token"` // empty disables operator notices
	SlackChannel string `yaml:"slack_channel"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values. Timer and message
// defaults mirror the deployed bot.
func (c *Config) applyDefaults() {
	if c.App.Stage == "" {
		c.App.Stage = "development"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "data"
	}
	if c.AI.ClassifyModel == "" {
		c.AI.ClassifyModel = "gpt-4.1"
	}
	if c.AI.FilterModel == "" {
		c.AI.FilterModel = "gpt-4.1-mini"
	}
	if c.AI.SplitModel == "" {
		c.AI.SplitModel = "gpt-4.1-mini"
	}
	if c.Directory.Mode == "" {
		c.Directory.Mode = "http"
	}
	if c.Directory.MaxTokens == 0 {
		c.Directory.MaxTokens = 3
	}
	if c.Directory.MySQL.Port == 0 {
		c.Directory.MySQL.Port = 3306
	}
	if c.Session.InactivityWarningSeconds == 0 {
		c.Session.InactivityWarningSeconds = 10 * 60
	}
	if c.Session.InactivityEndSeconds == 0 {
		c.Session.InactivityEndSeconds = 15 * 60
	}
	if c.Session.ForcedDurationSeconds == 0 {
		c.Session.ForcedDurationSeconds = 60 * 60
	}
	if c.Session.ForcedWarningLeadSeconds == 0 {
		c.Session.ForcedWarningLeadSeconds = 5 * 60
	}
	if c.Session.HandoverCooldownSeconds == 0 {
		c.Session.HandoverCooldownSeconds = 60 * 60
	}
	if c.Messages.Waiting == "" {
		c.Messages.Waiting = "Tunggu sebentar, kami sedang memproses balasan kamu"
	}
	if c.Messages.InactivityWarning == "" {
		c.Messages.InactivityWarning = "Sesi chat akan diakhiri dalam 5 menit karena ketidakaktifan. Balas pesan untuk melanjutkan sesi ini."
	}
	if c.Messages.ForcedWarning == "" {
		c.Messages.ForcedWarning = "Sesi chat akan diakhiri dalam 5 menit karena akan melewati batas wajar sesi."
	}
	if c.Messages.End == "" {
		c.Messages.End = "Terima kasih telah menghubungi kami. Jika Anda butuh bantuan di lain waktu, silakan chat kembali."
	}
	if c.Messages.Error == "" {
		c.Messages.Error = "Mohon maaf kami belum dapat menjawab pertanyaan Anda."
	}
	if c.Messages.Handover == "" {
		c.Messages.Handover = "Tunggu sebentar, tim CS kami akan segera membalas pesan Anda."
	}
	if c.Messages.ReportPlaceholder == "" {
		c.Messages.ReportPlaceholder = "[Excel File Sent]"
	}
	if c.API.Port == 0 {
		c.API.Port = 8000
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Bot.Enabled {
		if c.Bot.Phone == "" {
			errs = append(errs, "bot.phone is required when the bot is enabled")
		}
		if c.Bridge.URL == "" {
			errs = append(errs, "bridge.url is required when the bot is enabled")
		}
		if c.AI.APIKey == "" {
			errs = append(errs, "ai.api_key is required when the bot is enabled")
		}
		if c.Backend.ChatEndpoint == "" {
			errs = append(errs, "backend.chat_endpoint is required when the bot is enabled")
		}
	}
	switch c.Directory.Mode {
	case "http":
		if c.Bot.Enabled && c.Directory.QueryURL == "" {
			errs = append(errs, "directory.query_url is required in http mode")
		}
	case "mysql":
		if c.Directory.MySQL.Host == "" {
			errs = append(errs, "directory.mysql.host is required in mysql mode")
		}
		if c.Directory.MySQL.Database == "" {
			errs = append(errs, "directory.mysql.database is required in mysql mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("directory.mode %q is not one of http, mysql", c.Directory.Mode))
	}
	if c.Session.InactivityWarningSeconds >= c.Session.InactivityEndSeconds {
		errs = append(errs, "session.inactivity_warning_seconds must be below inactivity_end_seconds")
	}
	if c.Session.ForcedWarningLeadSeconds >= c.Session.ForcedDurationSeconds {
		errs = append(errs, "session.forced_warning_lead_seconds must be below forced_duration_seconds")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
