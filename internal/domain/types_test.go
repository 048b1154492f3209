package domain

import "testing"

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"alive", StatusAlive},
		{"DEAD", StatusDead},
		{"  Alive ", StatusAlive},
		{"mentioned", StatusUnknown},
		{"resurrected", StatusUnknown},
		{"", StatusUnknown},
	}
	for _, tt := range tests {
		if got := ParseStatus(tt.in); got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	if got := NormalizeName("  GANDALF the Grey "); got != "gandalf the grey" {
		t.Errorf("NormalizeName = %q", got)
	}
}

func TestNewReport(t *testing.T) {
	r := NewReport(nil)
	if r.Status != ReportValid {
		t.Errorf("status = %q, want valid", r.Status)
	}
	if r.Alerts == nil {
		t.Error("alerts must serialize as [], not null")
	}

	r = NewReport([]Alert{{Type: AlertUnknownCharacter}})
	if r.Status != ReportViolation {
		t.Errorf("status = %q, want violation", r.Status)
	}
}
