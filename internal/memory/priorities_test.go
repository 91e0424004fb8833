package memory

import (
	"strings"
	"testing"
)

func TestPriorities_missingReadsEmpty(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	got, err := ReadPriorities(home)
	if err != nil {
		t.Fatalf("ReadPriorities: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestPriorities_writeReadRoundTrip(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	want := "# Company Priorities\n\n1. Close the pilot\n"
	if err := WritePriorities(home, want); err != nil {
		t.Fatalf("WritePriorities: %v", err)
	}
	got, err := ReadPriorities(home)
	if err != nil || got != want {
		t.Fatalf("ReadPriorities = %q, %v", got, err)
	}
}

func TestEnsurePriorities_neverOverwrites(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	if err := EnsurePriorities(home); err != nil {
		t.Fatalf("EnsurePriorities: %v", err)
	}
	got, _ := ReadPriorities(home)
	if !strings.Contains(got, "Company Priorities") {
		t.Fatalf("template missing: %q", got)
	}

	edited := "# Company Priorities\n\n1. Ship the compliance report\n"
	if err := WritePriorities(home, edited); err != nil {
		t.Fatalf("WritePriorities: %v", err)
	}
	if err := EnsurePriorities(home); err != nil {
		t.Fatalf("EnsurePriorities again: %v", err)
	}
	got, _ = ReadPriorities(home)
	if got != edited {
		t.Fatalf("edited document clobbered: %q", got)
	}
}
