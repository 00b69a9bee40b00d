package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY", "OPENAI_API_KEY",
		"VIEWFORGE_ADAPTER", "VIEWFORGE_MODEL", "VIEWFORGE_STEPS", "VIEWFORGE_OUTPUT_DIR", "VIEWFORGE_ADDR",
	} {
		t.Setenv(name, "")
	}
}

func TestConfigIgnoresFileAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	configDir := filepath.Join(home, ".viewforge")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	data := []byte("api_keys:\n  google: file-google\n  openai: file-openai\nadapter: mock\n")
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GoogleAPIKey != "" || cfg.OpenAIAPIKey != "" {
		t.Fatalf("expected file API keys to be ignored")
	}
	if cfg.Adapter != "mock" {
		t.Fatalf("expected adapter from file, got %q", cfg.Adapter)
	}
}

func TestConfigUsesEnvAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	t.Setenv("API_KEY", "env-api")
	t.Setenv("OPENAI_API_KEY", "env-openai")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GoogleAPIKey != "env-api" || cfg.OpenAIAPIKey != "env-openai" {
		t.Fatalf("expected env API keys to be used")
	}

	t.Setenv("GEMINI_API_KEY", "env-gemini")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GoogleAPIKey != "env-gemini" {
		t.Fatalf("expected GEMINI_API_KEY to win, got %q", cfg.GoogleAPIKey)
	}
}

func TestConfigDefaults(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Adapter != "google" || cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Materialize.Interval().Milliseconds() != 1200 || cfg.Materialize.Duration().Milliseconds() != 7500 {
		t.Fatalf("unexpected materialize defaults: %+v", cfg.Materialize)
	}
	if cfg.HasAdapter("google") || !cfg.HasAdapter("mock") {
		t.Fatalf("unexpected adapter availability")
	}
}

func TestLoadFileEnvOverridesAndAliases(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	data := []byte(`adapter: OpenAI
model: sketchy
generation:
  min_interval_ms: 500
server:
  addr: ":9000"
models:
  aliases:
    sketchy: gpt-image-1
`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("VIEWFORGE_ADDR", ":9999")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Adapter != "openai" {
		t.Fatalf("expected lowercased adapter, got %q", cfg.Adapter)
	}
	if cfg.ResolvedModel("") != "gpt-image-1" {
		t.Fatalf("expected alias to resolve, got %q", cfg.ResolvedModel(""))
	}
	if cfg.ResolvedModel("nano-banana") != "gemini-2.5-flash-image-preview" {
		t.Fatalf("expected default aliases to survive merge")
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("expected env addr, got %q", cfg.Server.Addr)
	}
	if cfg.Generation.MinInterval().Milliseconds() != 500 {
		t.Fatalf("unexpected interval %v", cfg.Generation.MinInterval())
	}
}

func TestLoadFileMissing(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	configDir := filepath.Join(home, ".viewforge")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("adapter: [unterminated"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}
