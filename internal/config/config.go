package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile = "DECK_CONFIG_FILE"

	defaultConfigFileName   = "deck.yaml"
	alternateConfigFileName = "deck.yml"

	defaultEndpoint             = "ws://localhost:3001/ws/dashboard"
	defaultReconnectBaseDelay   = time.Second
	defaultReconnectMaxAttempts = 10
)

// Config carries everything the dashboard process needs: the backend
// endpoint, reconnect tuning and the optional sink integrations.
type Config struct {
	Endpoint             string
	APIKey               string
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int

	DBDriver string
	DBDSN    string

	DiscordBotToken  string
	DiscordChannelID string

	WebhookURLs []string
}

type fileConfig struct {
	Endpoint             string   `yaml:"endpoint"`
	APIKey               string   `yaml:"api_key"`
	ReconnectBaseDelay   string   `yaml:"reconnect_base_delay"`
	ReconnectMaxAttempts *int     `yaml:"reconnect_max_attempts"`
	DBDriver             string   `yaml:"db_driver"`
	DBDSN                string   `yaml:"db_dsn"`
	DiscordBotToken      string   `yaml:"discord_bot_token"`
	DiscordChannelID     string   `yaml:"discord_channel_id"`
	WebhookURLs          []string `yaml:"webhook_urls"`
}

// Load builds the config from the optional YAML file layered under the
// environment. Environment variables always win over file values.
func Load() (Config, error) {
	file, err := loadFileConfig()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Endpoint:             firstNonEmpty(envString("DECK_ENDPOINT"), strings.TrimSpace(file.Endpoint), defaultEndpoint),
		APIKey:               firstNonEmpty(envString("DECK_API_KEY"), strings.TrimSpace(file.APIKey)),
		ReconnectBaseDelay:   defaultReconnectBaseDelay,
		ReconnectMaxAttempts: defaultReconnectMaxAttempts,
		DBDriver:             strings.ToLower(firstNonEmpty(envString("DECK_DB_DRIVER"), strings.TrimSpace(file.DBDriver))),
		DBDSN:                firstNonEmpty(envString("DECK_DB_DSN"), strings.TrimSpace(file.DBDSN)),
		DiscordBotToken:      firstNonEmpty(envString("DECK_DISCORD_BOT_TOKEN"), strings.TrimSpace(file.DiscordBotToken)),
		DiscordChannelID:     firstNonEmpty(envString("DECK_DISCORD_CHANNEL_ID"), strings.TrimSpace(file.DiscordChannelID)),
	}

	if raw := strings.TrimSpace(file.ReconnectBaseDelay); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("reconnect_base_delay must be a positive duration, got %q", raw)
		}
		cfg.ReconnectBaseDelay = parsed
	}
	if raw := envString("DECK_RECONNECT_BASE_DELAY"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("DECK_RECONNECT_BASE_DELAY must be a positive duration, got %q", raw)
		}
		cfg.ReconnectBaseDelay = parsed
	}

	if file.ReconnectMaxAttempts != nil {
		cfg.ReconnectMaxAttempts = *file.ReconnectMaxAttempts
	}
	if raw := envString("DECK_RECONNECT_MAX_ATTEMPTS"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("DECK_RECONNECT_MAX_ATTEMPTS must be an integer, got %q", raw)
		}
		cfg.ReconnectMaxAttempts = parsed
	}

	cfg.WebhookURLs = append([]string(nil), trimmedNonEmpty(file.WebhookURLs)...)
	if raw := envString("DECK_WEBHOOK_URLS"); raw != "" {
		cfg.WebhookURLs = trimmedNonEmpty(strings.Split(raw, ","))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("DECK_ENDPOINT must not be empty")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("DECK_ENDPOINT is not a valid URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("DECK_ENDPOINT must use ws or wss scheme, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("DECK_ENDPOINT must include a host")
	}
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be > 0")
	}
	if c.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("reconnect max attempts must be > 0")
	}
	switch c.DBDriver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("DECK_DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDriver != "" && strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("DECK_DB_DSN must be set when DECK_DB_DRIVER is set")
	}
	if (c.DiscordBotToken == "") != (c.DiscordChannelID == "") {
		return fmt.Errorf("DECK_DISCORD_BOT_TOKEN and DECK_DISCORD_CHANNEL_ID must be provided together")
	}
	for _, raw := range c.WebhookURLs {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("webhook url %q must be a valid http(s) URL", raw)
		}
	}
	return nil
}

// ArchiveEnabled reports whether an event archive database is configured.
func (c Config) ArchiveEnabled() bool {
	return c.DBDriver != ""
}

// DiscordEnabled reports whether the Discord alert sink is configured.
func (c Config) DiscordEnabled() bool {
	return c.DiscordBotToken != "" && c.DiscordChannelID != ""
}

func loadFileConfig() (fileConfig, error) {
	path, ok, err := resolveConfigFilePath()
	if err != nil {
		return fileConfig{}, err
	}
	if !ok {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return cfg, nil
}

func resolveConfigFilePath() (string, bool, error) {
	if explicit := envString(EnvConfigFile); explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", explicit, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", explicit)
		}
		return explicit, true, nil
	}

	for _, candidate := range []string{defaultConfigFileName, alternateConfigFileName} {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}
	return "", false, nil
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func trimmedNonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
