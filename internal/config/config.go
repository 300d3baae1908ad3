// Package config loads and validates the sync engine's settings from
// an omnisync.yaml file, with OMNISYNC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Filter modes select how the remote library is narrowed.
const (
	FilterAll        = "all"
	FilterHighlights = "highlights"
	FilterAdvanced   = "advanced"
)

// Highlight ordering modes.
const (
	OrderTime     = "time"
	OrderLocation = "location"
)

// ErrMissingAPIKey is returned by Validate when no API key is set. The
// run aborts before any fetch.
var ErrMissingAPIKey = errors.New("api key is not set")

// Settings is the full configuration surface.
type Settings struct {
	APIKey            string `mapstructure:"api_key"`
	Endpoint          string `mapstructure:"endpoint"`
	Filter            string `mapstructure:"filter"`
	CustomQuery       string `mapstructure:"custom_query"`
	FrequencyMinutes  int    `mapstructure:"frequency_minutes"`
	Graph             string `mapstructure:"graph"`
	DBPath            string `mapstructure:"db_path"`
	SinglePage        bool   `mapstructure:"single_page"`
	PageName          string `mapstructure:"page_name"`
	Heading           string `mapstructure:"heading"`
	ArticleTemplate   string `mapstructure:"article_template"`
	HighlightTemplate string `mapstructure:"highlight_template"`
	HighlightOrder    string `mapstructure:"highlight_order"`
	SyncContent       bool   `mapstructure:"sync_content"`
	DateFormat        string `mapstructure:"date_format"`
	DashboardAddr     string `mapstructure:"dashboard_addr"`
	LogFile           string `mapstructure:"log_file"`

	// SyncAt seeds the watermark on first run against a store that has
	// none, for users migrating from a setup that kept the watermark in
	// its settings file. After the first successful run the store's own
	// watermark takes over.
	SyncAt string `mapstructure:"sync_at"`

	// ConfigFile is the resolved path of the file settings were loaded
	// from, empty when running on defaults and environment only.
	ConfigFile string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "https://api-prod.omnivore.app/api/graphql")
	v.SetDefault("filter", FilterHighlights)
	v.SetDefault("frequency_minutes", 60)
	v.SetDefault("db_path", "omnisync.db")
	v.SetDefault("single_page", true)
	v.SetDefault("highlight_order", OrderTime)
	v.SetDefault("date_format", "yyyy-MM-dd")
	v.SetDefault("sync_content", false)
}

// Load reads settings from the given file, or from omnisync.yaml in the
// working directory and ~/.config/omnisync when path is empty. A
// missing file is not an error in the latter case; defaults and
// environment variables still apply.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OMNISYNC")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("omnisync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/omnisync")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	s.ConfigFile = v.ConfigFileUsed()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks settings that would otherwise fail mid-run.
func (s *Settings) Validate() error {
	switch s.Filter {
	case FilterAll, FilterHighlights, FilterAdvanced:
	default:
		return fmt.Errorf("invalid filter %q (want %s, %s or %s)",
			s.Filter, FilterAll, FilterHighlights, FilterAdvanced)
	}
	if s.Filter == FilterAdvanced && strings.TrimSpace(s.CustomQuery) == "" {
		return fmt.Errorf("filter %q requires custom_query", FilterAdvanced)
	}
	switch s.HighlightOrder {
	case OrderTime, OrderLocation:
	default:
		return fmt.Errorf("invalid highlight_order %q (want %s or %s)",
			s.HighlightOrder, OrderTime, OrderLocation)
	}
	if s.FrequencyMinutes < 0 {
		return fmt.Errorf("frequency_minutes must not be negative")
	}
	return nil
}

// RequireAPIKey returns ErrMissingAPIKey when no key is configured.
// Kept out of Validate so read-only commands work without one.
func (s *Settings) RequireAPIKey() error {
	if strings.TrimSpace(s.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// QueryFilter maps the filter mode to the search query clause.
func (s *Settings) QueryFilter() string {
	switch s.Filter {
	case FilterHighlights:
		return "has:highlights"
	case FilterAdvanced:
		return s.CustomQuery
	default:
		return ""
	}
}

// Frequency returns the scheduler interval; zero disables scheduling.
func (s *Settings) Frequency() time.Duration {
	return time.Duration(s.FrequencyMinutes) * time.Minute
}
