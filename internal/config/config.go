package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Askaria environment variables.
const EnvPrefix = "ASKARIA_"

const (
	defaultRealtimeURL   = "wss://api.openai.com/v1/realtime"
	defaultRealtimeModel = "gpt-4o-realtime-preview-2024-10-01"
	defaultChatModel     = "gpt-4o-2024-08-06"
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr       string `yaml:"listen_addr"`
	DBPath           string `yaml:"db_path"`
	RecordingDir     string `yaml:"recording_dir"`
	RecordingURLBase string `yaml:"recording_url_base"`
	SampleRate       int    `yaml:"sample_rate"`

	RealtimeURL          string  `yaml:"realtime_url"`
	RealtimeModel        string  `yaml:"realtime_model"`
	RealtimeVoice        string  `yaml:"realtime_voice"`
	RealtimeInstructions string  `yaml:"realtime_instructions"`
	RealtimeTemperature  float64 `yaml:"realtime_temperature"`
	UpstreamRecvTimeout  string  `yaml:"upstream_recv_timeout"`

	ChatModel         string `yaml:"chat_model"`
	SummaryWebhookURL string `yaml:"summary_webhook_url"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets come from env vars only, never serialized to YAML.
	OpenAIAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:          ":8080",
		DBPath:              "data/askaria.db",
		RecordingDir:        "data/recordings",
		RecordingURLBase:    "/recordings",
		SampleRate:          8000,
		RealtimeURL:         defaultRealtimeURL,
		RealtimeModel:       defaultRealtimeModel,
		RealtimeVoice:       "shimmer",
		RealtimeTemperature: 0.8,
		UpstreamRecvTimeout: "5s",
		ChatModel:           defaultChatModel,
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedUpstreamRecvTimeout returns UpstreamRecvTimeout as a time.Duration,
// falling back to 5s if the value is invalid.
func (c *Config) ParsedUpstreamRecvTimeout() time.Duration {
	d, err := time.ParseDuration(c.UpstreamRecvTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "RECORDING_DIR"); v != "" {
		cfg.RecordingDir = v
	}
	if v := os.Getenv(EnvPrefix + "RECORDING_URL_BASE"); v != "" {
		cfg.RecordingURLBase = v
	}
	if v := os.Getenv(EnvPrefix + "SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.SampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "REALTIME_URL"); v != "" {
		cfg.RealtimeURL = v
	}
	if v := os.Getenv(EnvPrefix + "REALTIME_MODEL"); v != "" {
		cfg.RealtimeModel = v
	}
	if v := os.Getenv(EnvPrefix + "REALTIME_VOICE"); v != "" {
		cfg.RealtimeVoice = v
	}
	if v := os.Getenv(EnvPrefix + "REALTIME_INSTRUCTIONS"); v != "" {
		cfg.RealtimeInstructions = v
	}
	if v := os.Getenv(EnvPrefix + "UPSTREAM_RECV_TIMEOUT"); v != "" {
		cfg.UpstreamRecvTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "CHAT_MODEL"); v != "" {
		cfg.ChatModel = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARY_WEBHOOK_URL"); v != "" {
		cfg.SummaryWebhookURL = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured, incoming calls will be rejected. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}
	if cfg.RealtimeInstructions == "" {
		warnings = append(warnings, "Realtime instructions not configured, the assistant will not greet callers. Set "+EnvPrefix+"REALTIME_INSTRUCTIONS.")
	}
	if cfg.SummaryWebhookURL == "" {
		warnings = append(warnings, "Summary webhook URL not configured, post-call summaries are disabled. Set "+EnvPrefix+"SUMMARY_WEBHOOK_URL.")
	}
	if _, err := time.ParseDuration(cfg.UpstreamRecvTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid upstream_recv_timeout %q, using default 5s.", cfg.UpstreamRecvTimeout))
	}

	return warnings
}
