package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "omnisync.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(writeConfig(t, "api_key: k\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Filter != FilterHighlights {
		t.Errorf("default filter = %q", s.Filter)
	}
	if s.FrequencyMinutes != 60 {
		t.Errorf("default frequency = %d", s.FrequencyMinutes)
	}
	if !s.SinglePage {
		t.Error("single_page should default to true")
	}
	if s.HighlightOrder != OrderTime {
		t.Errorf("default highlight_order = %q", s.HighlightOrder)
	}
	if s.DateFormat != "yyyy-MM-dd" {
		t.Errorf("default date_format = %q", s.DateFormat)
	}
}

func TestLoadOverrides(t *testing.T) {
	s, err := Load(writeConfig(t, `
api_key: k
filter: advanced
custom_query: "in:archive"
frequency_minutes: 5
single_page: false
highlight_order: location
heading: "## Articles"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Filter != FilterAdvanced || s.CustomQuery != "in:archive" {
		t.Errorf("filter = %q, custom_query = %q", s.Filter, s.CustomQuery)
	}
	if s.Heading != "## Articles" {
		t.Errorf("heading = %q", s.Heading)
	}
	if s.Frequency() != 5*time.Minute {
		t.Errorf("Frequency = %v", s.Frequency())
	}
	if s.SinglePage {
		t.Error("single_page should be false")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("explicit missing file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid", func(s *Settings) {}, false},
		{"bad filter", func(s *Settings) { s.Filter = "bogus" }, true},
		{"advanced without query", func(s *Settings) { s.Filter = FilterAdvanced; s.CustomQuery = "" }, true},
		{"bad order", func(s *Settings) { s.HighlightOrder = "alphabetical" }, true},
		{"negative frequency", func(s *Settings) { s.FrequencyMinutes = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Settings{Filter: FilterAll, HighlightOrder: OrderTime}
			tt.mutate(s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	s := &Settings{}
	if err := s.RequireAPIKey(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("RequireAPIKey = %v, want ErrMissingAPIKey", err)
	}
	s.APIKey = "k"
	if err := s.RequireAPIKey(); err != nil {
		t.Errorf("RequireAPIKey with key = %v", err)
	}
}

func TestQueryFilter(t *testing.T) {
	tests := []struct {
		filter, custom, want string
	}{
		{FilterAll, "", ""},
		{FilterHighlights, "", "has:highlights"},
		{FilterAdvanced, "in:archive label:go", "in:archive label:go"},
	}
	for _, tt := range tests {
		s := &Settings{Filter: tt.filter, CustomQuery: tt.custom}
		if got := s.QueryFilter(); got != tt.want {
			t.Errorf("QueryFilter(%s) = %q, want %q", tt.filter, got, tt.want)
		}
	}
}
