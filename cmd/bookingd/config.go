package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that parses "30m"-style strings from
// YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the bookingd configuration file.
type Config struct {
	Addr     string `yaml:"addr"`
	Timezone string `yaml:"timezone"`

	Resolver ResolverConfig `yaml:"resolver"`
	Calendar CalendarConfig `yaml:"calendar"`
	Sessions SessionsConfig `yaml:"sessions"`
	Engine   EngineConfig   `yaml:"engine"`
}

type ResolverConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type CalendarConfig struct {
	// Provider selects the backend: "google" or "ical".
	Provider string       `yaml:"provider"`
	Google   GoogleConfig `yaml:"google"`
	ICal     ICalConfig   `yaml:"ical"`
}

type GoogleConfig struct {
	AccessToken string `yaml:"access_token"`
	CalendarID  string `yaml:"calendar_id"`
}

type ICalConfig struct {
	URL string `yaml:"url"`
}

type SessionsConfig struct {
	// Backend selects the store: "memory" or "sqlite".
	Backend string   `yaml:"backend"`
	Path    string   `yaml:"path"`
	TTL     Duration `yaml:"ttl"`
}

type EngineConfig struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	ConfirmationTTL     Duration `yaml:"confirmation_ttl"`
	HistoryLimit        int      `yaml:"history_limit"`
}

func defaultConfig() Config {
	return Config{
		Addr:     ":8080",
		Timezone: "UTC",
		Resolver: ResolverConfig{Model: "gpt-4o-mini"},
		Calendar: CalendarConfig{
			Provider: "google",
			Google:   GoogleConfig{CalendarID: "primary"},
		},
		Sessions: SessionsConfig{Backend: "memory", TTL: Duration(30 * time.Minute)},
	}
}

// LoadConfig reads the configuration file at path, falling back to
// defaults and environment variables for secrets. A missing file is
// not an error; the defaults apply.
func LoadConfig(path string) (Config, error) {
	config := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("error reading config: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, &config); err != nil {
			return Config{}, fmt.Errorf("error parsing config: %w", err)
		}
	}

	// Secrets prefer the environment over the file.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.Resolver.APIKey = key
	}
	if token := os.Getenv("GOOGLE_CALENDAR_TOKEN"); token != "" {
		config.Calendar.Google.AccessToken = token
	}
	if timezone := os.Getenv("TIMEZONE"); timezone != "" {
		config.Timezone = timezone
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	switch c.Calendar.Provider {
	case "google", "ical":
	default:
		return fmt.Errorf("unknown calendar provider %q", c.Calendar.Provider)
	}
	if c.Calendar.Provider == "ical" && c.Calendar.ICal.URL == "" {
		return fmt.Errorf("calendar.ical.url must be set for the ical provider")
	}

	switch c.Sessions.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown session backend %q", c.Sessions.Backend)
	}
	if c.Sessions.Backend == "sqlite" && c.Sessions.Path == "" {
		return fmt.Errorf("sessions.path must be set for the sqlite backend")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}
