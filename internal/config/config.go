package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trymwestin/procare/internal/core/transport"
)

// Config holds all daemon configuration.
type Config struct {
	Procare ProcareConfig `yaml:"procare"`
	HTTP    HTTPConfig    `yaml:"http"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Entries EntriesConfig `yaml:"entries"`
	Log     LogConfig     `yaml:"log"`
}

// ProcareConfig holds API hosts and refresh cadence.
type ProcareConfig struct {
	AuthHost       string        `yaml:"auth_host"`
	APIHost        string        `yaml:"api_host"`
	WebHost        string        `yaml:"web_host"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// Hosts returns the configured API hosts.
func (p ProcareConfig) Hosts() transport.Hosts {
	return transport.Hosts{Auth: p.AuthHost, API: p.APIHost, Web: p.WebHost}
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr    string `yaml:"addr"`
	UIDir   string `yaml:"ui_dir"`
	CORSAll bool   `yaml:"cors_allow_all"`
}

// MQTTConfig holds MQTT broker configuration.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	// DiscoveryPrefix is the Home Assistant discovery root.
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// EntriesConfig locates the linked-account store.
type EntriesConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Procare: ProcareConfig{
			AuthHost:       transport.DefaultAuthHost,
			APIHost:        transport.DefaultAPIHost,
			WebHost:        transport.DefaultWebHost,
			RequestTimeout: transport.DefaultTimeout,
			PollInterval:   35 * time.Minute,
			RefreshTimeout: time.Minute,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		MQTT: MQTTConfig{
			ClientID:        "procared",
			TopicPrefix:     "procare",
			DiscoveryPrefix: "homeassistant",
		},
		Entries: EntriesConfig{
			Path: "/data/entries.yaml",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file at path, then overlays environment variables.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays PROCARE_* variables. Env takes precedence over YAML.
func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"PROCARE_AUTH_HOST":             &cfg.Procare.AuthHost,
		"PROCARE_API_HOST":              &cfg.Procare.APIHost,
		"PROCARE_WEB_HOST":              &cfg.Procare.WebHost,
		"PROCARE_HTTP_ADDR":             &cfg.HTTP.Addr,
		"PROCARE_UI_DIR":                &cfg.HTTP.UIDir,
		"PROCARE_MQTT_BROKER":           &cfg.MQTT.Broker,
		"PROCARE_MQTT_USERNAME":         &cfg.MQTT.Username,
		"PROCARE_MQTT_PASSWORD":         &cfg.MQTT.Password,
		"PROCARE_MQTT_CLIENT_ID":        &cfg.MQTT.ClientID,
		"PROCARE_MQTT_TOPIC_PREFIX":     &cfg.MQTT.TopicPrefix,
		"PROCARE_MQTT_DISCOVERY_PREFIX": &cfg.MQTT.DiscoveryPrefix,
		"PROCARE_ENTRIES_PATH":          &cfg.Entries.Path,
		"PROCARE_LOG_LEVEL":             &cfg.Log.Level,
		"PROCARE_LOG_FORMAT":            &cfg.Log.Format,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v := os.Getenv("PROCARE_CORS_ALLOW_ALL"); v != "" {
		cfg.HTTP.CORSAll = parseBool(v)
	}
	if v := os.Getenv("PROCARE_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v)
	}

	durations := map[string]*time.Duration{
		"PROCARE_REQUEST_TIMEOUT": &cfg.Procare.RequestTimeout,
		"PROCARE_POLL_INTERVAL":   &cfg.Procare.PollInterval,
		"PROCARE_REFRESH_TIMEOUT": &cfg.Procare.RefreshTimeout,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
	return b
}

// Logger builds the process logger described by the log section.
func (c LogConfig) Logger(w *os.File) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
