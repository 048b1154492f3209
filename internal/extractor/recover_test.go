package extractor

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"bare object",
			`{"characters": []}`,
			`{"characters": []}`,
		},
		{
			"leading prose",
			`Here is the extraction you asked for: {"a": 1} hope it helps`,
			`{"a": 1}`,
		},
		{
			"stops at first complete object",
			`{"a": 1}{"b": 2}`,
			`{"a": 1}`,
		},
		{
			"nested objects",
			`{"a": {"b": {"c": 3}}} trailing`,
			`{"a": {"b": {"c": 3}}}`,
		},
		{
			"brace inside string literal",
			`{"name": "the } bracket inn", "n": 1}`,
			`{"name": "the } bracket inn", "n": 1}`,
		},
		{
			"escaped quote inside string",
			`{"name": "she said \"}\"", "n": 1}`,
			`{"name": "she said \"}\"", "n": 1}`,
		},
		{
			"truncated payload falls back to greedy span",
			`{"a": {"b": 1}`,
			`{"a": {"b": 1}`,
		},
		{
			"no object",
			"no json here",
			"",
		},
		{
			"only opening brace",
			"oops {",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstJSONObject(tt.in); got != tt.want {
				t.Errorf("FirstJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFirstJSONObjectRoundTrips(t *testing.T) {
	noisy := "```json\n{\"characters\": [{\"name\": \"Hero\", \"status\": \"alive\"}]}\n```\nLet me know if you need anything else."
	raw := FirstJSONObject(noisy)

	var ext Extraction
	if err := json.Unmarshal([]byte(raw), &ext); err != nil {
		t.Fatalf("recovered payload does not parse: %v", err)
	}
	if len(ext.Characters) != 1 || ext.Characters[0].Name != "Hero" {
		t.Errorf("extraction = %+v, want one character Hero", ext)
	}
}

func TestPresent(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{PresenceAlive, true},
		{PresenceDead, true},
		{PresenceMentioned, false},
		{"", true},
	}
	for _, tt := range tests {
		c := CharacterFact{Name: "x", Status: tt.status}
		if got := c.Present(); got != tt.want {
			t.Errorf("Present() with status %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	// Each é is two bytes; an odd cut would split one.
	text := strings.Repeat("é", 10)

	got := truncate(text, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if len(got) != 4 {
		t.Errorf("len = %d, want 4 (backed off to the rune start)", len(got))
	}

	if got := truncate("short", 100); got != "short" {
		t.Errorf("truncate under limit = %q, want unchanged", got)
	}
}

func TestMergeMemory(t *testing.T) {
	memory := []string{"Aragorn", "Frodo"}
	ext := &Extraction{Characters: []CharacterFact{
		{Name: "Gandalf"},
		{Name: "Frodo"}, // already in memory
		{Name: ""},      // dropped
	}}

	merged := MergeMemory(memory, ext)
	want := []string{"Gandalf", "Frodo", "Aragorn"}
	if len(merged) != len(want) {
		t.Fatalf("merged = %v, want %v", merged, want)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Errorf("merged[%d] = %q, want %q", i, merged[i], want[i])
		}
	}
}

func TestMergeMemoryCapped(t *testing.T) {
	var memory []string
	for i := 0; i < MemoryWindow+5; i++ {
		memory = append(memory, string(rune('a'+i)))
	}
	merged := MergeMemory(memory, &Extraction{})
	if len(merged) != MemoryWindow {
		t.Errorf("len = %d, want capped at %d", len(merged), MemoryWindow)
	}
}
