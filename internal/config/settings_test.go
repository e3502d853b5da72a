package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewManagerWritesDefaults(t *testing.T) {
	m := newTestManager(t)

	if _, err := os.Stat(m.GetConfigPath()); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}

	s := m.Get()
	want := Defaults(filepath.Join(m.Dir(), "overlay_settings"))
	if s != want {
		t.Fatalf("got %+v, want %+v", s, want)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestSetPersistsAcrossReload(t *testing.T) {
	m := newTestManager(t)
	if err := m.Set("api.port", "9100"); err != nil {
		t.Fatal(err)
	}
	if err := m.Set("liveness_interval", "250ms"); err != nil {
		t.Fatal(err)
	}
	if err := m.Set("engine", "frame"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewManager(m.GetConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	s := reloaded.Get()
	if s.API.Port != 9100 || s.LivenessInterval != 250*time.Millisecond || s.Engine != "frame" {
		t.Fatalf("settings not persisted: %+v", s)
	}
}

func TestSetRejectsInvalidValues(t *testing.T) {
	m := newTestManager(t)
	tests := []struct {
		key, value string
	}{
		{"api.port", "eighty"},
		{"api.port", "70000"},
		{"log_level", "loud"},
		{"engine", "dxgi"},
		{"keys.reset", "r"},
		{"keys.help", "F1"},
		{"frame_interval", "soon"},
	}
	for _, tt := range tests {
		if err := m.Set(tt.key, tt.value); err == nil {
			t.Errorf("Set(%q, %q) should fail", tt.key, tt.value)
		}
	}
	if s := m.Get(); s.Keys.Reset != "z" || s.API.Port != 8787 {
		t.Fatalf("rejected values must not stick: %+v", s)
	}
}

func TestValidateAcceptsEngineAliases(t *testing.T) {
	for _, engine := range []string{"thumbnail", "compositor", "frame", "capture", "Frame"} {
		s := Defaults(t.TempDir())
		s.Engine = engine
		if err := s.Validate(); err != nil {
			t.Errorf("engine %q: %v", engine, err)
		}
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("WINDOWPEEK_API_PORT", "9300")
	m := newTestManager(t)
	if got := m.Get().API.Port; got != 9300 {
		t.Fatalf("expected env override 9300, got %d", got)
	}
}

func TestDotEnvIsLoaded(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WINDOWPEEK_ENGINE=frame\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("WINDOWPEEK_ENGINE") })

	m, err := NewManager(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Get().Engine; got != "frame" {
		t.Fatalf("expected engine from .env, got %q", got)
	}
}

func TestValidateDuplicateKeys(t *testing.T) {
	s := Defaults("/tmp/views")
	s.Keys.Close = s.Keys.Help
	err := s.Validate()
	if err == nil || !strings.Contains(err.Error(), "both use") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}
