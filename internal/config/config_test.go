package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWithHome_HomeFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, ok := HomeFrom(ctx); ok {
		t.Fatal("expected no home in empty context")
	}
	ctx = WithHome(ctx, "/foo/bar")
	got, ok := HomeFrom(ctx)
	if !ok || got != "/foo/bar" {
		t.Fatalf("HomeFrom: got %q, ok=%v; want /foo/bar, true", got, ok)
	}
}

func TestMustHomeFrom(t *testing.T) {
	t.Parallel()
	ctx := WithHome(context.Background(), "/p2pagents")
	if got := MustHomeFrom(ctx); got != "/p2pagents" {
		t.Fatalf("MustHomeFrom: got %q", got)
	}
}

func TestMustHomeFrom_panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when home missing")
		}
	}()
	MustHomeFrom(context.Background())
}

func TestResolveHome_override(t *testing.T) {
	t.Parallel()
	got, err := ResolveHome("/custom/home")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/custom/home") {
		t.Fatalf("ResolveHome: got %q", got)
	}
}

func TestResolveHome_env(t *testing.T) {
	t.Setenv("P2PAGENTS_HOME", "/env/home")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/env/home") {
		t.Fatalf("ResolveHome from env: got %q", got)
	}
}

func TestResolveHome_default(t *testing.T) {
	t.Setenv("P2PAGENTS_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("UserHomeDir: %v", err)
	}
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	want := filepath.Join(home, ".p2pagents")
	if got != want {
		t.Fatalf("ResolveHome default: got %q, want %q", got, want)
	}
}

func TestLoadSettings_missingFile(t *testing.T) {
	t.Parallel()
	s, err := LoadSettings(t.TempDir())
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.DailyHour != 7 || s.MaxConcurrent != 3 || s.RetryCeiling != 3 {
		t.Fatalf("defaults not applied: %+v", s)
	}
	if s.ModelFor("haiku") == "" || s.ModelFor("unknown") != s.ModelFor("sonnet") {
		t.Fatalf("ModelFor tier resolution wrong: %+v", s.Reasoning.Models)
	}
}

func TestLoadSettings_overridesAndValidation(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	content := "daily_hour: 9\nmax_concurrent: 5\ntick_seconds: 30\nchat:\n  transport: slack\n  default_channel: founders\n"
	if err := os.WriteFile(SettingsPath(home), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := LoadSettings(home)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.DailyHour != 9 || s.MaxConcurrent != 5 || s.Tick() != 30*time.Second {
		t.Fatalf("overrides not applied: %+v", s)
	}
	if s.Chat.Transport != "slack" || s.Chat.DefaultChannel != "founders" {
		t.Fatalf("chat overrides not applied: %+v", s.Chat)
	}
	// Defaults survive partial override.
	if s.RetryCeiling != 3 || s.Reasoning.Provider != "anthropic" {
		t.Fatalf("defaults clobbered: %+v", s)
	}

	bad := "daily_hour: 99\n"
	if err := os.WriteFile(SettingsPath(home), []byte(bad), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadSettings(home); err == nil {
		t.Fatal("expected validation error for daily_hour 99")
	}
}
