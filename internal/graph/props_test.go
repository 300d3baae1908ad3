package graph

import (
	"reflect"
	"testing"
)

func TestParseProperties(t *testing.T) {
	content := "Some title\nsite:: [Example](https://example.com)\nlabels:: [[go]][[sync]]\ndate-saved:: [[2023-03-01]]\nbody text"

	props := ParseProperties(content)
	if props == nil {
		t.Fatal("ParseProperties returned nil")
	}
	if got := props["site"]; got != "[Example](https://example.com)" {
		t.Errorf("site = %v", got)
	}
	if got, ok := props["labels"].([]string); !ok || !reflect.DeepEqual(got, []string{"go", "sync"}) {
		t.Errorf("labels = %v", props["labels"])
	}
	if got, ok := props["date-saved"].([]string); !ok || !reflect.DeepEqual(got, []string{"2023-03-01"}) {
		t.Errorf("date-saved = %v", props["date-saved"])
	}
}

func TestParsePropertiesNone(t *testing.T) {
	if props := ParseProperties("plain text\nno properties here"); props != nil {
		t.Errorf("ParseProperties = %v, want nil", props)
	}
}

func TestPropertiesChanged(t *testing.T) {
	tests := []struct {
		name     string
		newProps map[string]any
		existing map[string]any
		want     bool
	}{
		{
			name:     "nil new means nothing to compare",
			newProps: nil,
			existing: map[string]any{"site": "x"},
			want:     false,
		},
		{
			name:     "nil existing always differs",
			newProps: map[string]any{"site": "x"},
			existing: nil,
			want:     true,
		},
		{
			name:     "equal scalars",
			newProps: map[string]any{"site": "x", "author": "y"},
			existing: map[string]any{"site": "x", "author": "y"},
			want:     false,
		},
		{
			name:     "scalar differs",
			newProps: map[string]any{"site": "x"},
			existing: map[string]any{"site": "z"},
			want:     true,
		},
		{
			name:     "missing key differs",
			newProps: map[string]any{"author": "y"},
			existing: map[string]any{"site": "x"},
			want:     true,
		},
		{
			name:     "collapsed is ignored",
			newProps: map[string]any{"collapsed": "true", "site": "x"},
			existing: map[string]any{"site": "x"},
			want:     false,
		},
		{
			name:     "equal lists",
			newProps: map[string]any{"labels": []string{"a", "b"}},
			existing: map[string]any{"labels": []string{"a", "b"}},
			want:     false,
		},
		{
			name:     "reordered list counts as change",
			newProps: map[string]any{"labels": []string{"b", "a"}},
			existing: map[string]any{"labels": []string{"a", "b"}},
			want:     true,
		},
		{
			name:     "list vs scalar differs",
			newProps: map[string]any{"labels": []string{"a"}},
			existing: map[string]any{"labels": "a"},
			want:     true,
		},
		{
			name:     "extra existing key is not a change",
			newProps: map[string]any{"site": "x"},
			existing: map[string]any{"site": "x", "stale": "kept"},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PropertiesChanged(tt.newProps, tt.existing); got != tt.want {
				t.Errorf("PropertiesChanged = %v, want %v", got, tt.want)
			}
		})
	}
}
