package report

import (
	"errors"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"":      FormatTable,
		"TABLE": FormatTable,
		"json":  FormatJSON,
		"sarif": FormatSARIF,
	}
	for input, want := range cases {
		got, err := ParseFormat(input)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestLocationString(t *testing.T) {
	if got := (Location{File: "src/main.js", Line: 3, Column: 8}).String(); got != "src/main.js:3:8" {
		t.Fatalf("unexpected location %q", got)
	}
}

func TestNewReportsStampSchemaAndUTC(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.FixedZone("x", 3600))
	build := NewBuildReport("/site", now)
	if build.SchemaVersion != SchemaVersion || build.GeneratedAt.Location() != time.UTC {
		t.Fatalf("unexpected build report %+v", build)
	}
	check := NewCheckReport("/site", now)
	if check.Root != "/site" || !check.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected check report %+v", check)
	}
}
