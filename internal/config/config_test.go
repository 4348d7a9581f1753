package config

import (
	"os"
	"testing"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestDefaultConfig_HasSaneDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.AccountSelection.Strategy != DefaultSelectionStrategy {
		t.Errorf("expected default strategy %s, got %s", DefaultSelectionStrategy, cfg.AccountSelection.Strategy)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Port)
	}
	if !cfg.FallbackEnabled {
		t.Error("expected fallback enabled by default")
	}
}

func TestLoad_AppliesEnvOverrides(t *testing.T) {
	withEnv(t, "GATEWAY_API_KEY", "sk-env-key")
	withEnv(t, "GATEWAY_DEBUG", "true")
	withEnv(t, "GATEWAY_STRATEGY", "round-robin")
	withEnv(t, "GATEWAY_PORT", "9001")
	withEnv(t, "GATEWAY_SQLITE_PATH", "/tmp/accounts.db")

	cfg := DefaultConfig()
	cfg.Load()

	if cfg.APIKey != "sk-env-key" {
		t.Errorf("expected APIKey from env, got %s", cfg.APIKey)
	}
	if !cfg.Debug {
		t.Error("expected Debug true from env")
	}
	if cfg.AccountSelection.Strategy != "round-robin" {
		t.Errorf("expected strategy round-robin, got %s", cfg.AccountSelection.Strategy)
	}
	if cfg.Port != 9001 {
		t.Errorf("expected port 9001, got %d", cfg.Port)
	}
	if cfg.SQLitePath != "/tmp/accounts.db" {
		t.Errorf("expected sqlite path from env, got %s", cfg.SQLitePath)
	}
}

func TestLoad_FallbackDisabledByEnv(t *testing.T) {
	withEnv(t, "GATEWAY_FALLBACK", "false")

	cfg := DefaultConfig()
	cfg.Load()

	if cfg.FallbackEnabled {
		t.Error("expected fallback disabled when GATEWAY_FALLBACK=false")
	}
}

func TestGetPublic_RedactsAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "sk-super-secret"

	public := cfg.GetPublic()

	if public["apiKey"] == "sk-super-secret" {
		t.Error("expected APIKey to be redacted in public config")
	}
	if public["apiKey"] != "********" {
		t.Errorf("expected redacted placeholder, got %v", public["apiKey"])
	}
}

func TestGetPublic_OmitsOAuthSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OAuthClientSecret = "very-secret"

	public := cfg.GetPublic()

	if _, ok := public["oauthClientSecret"]; ok {
		t.Error("expected OAuth client secret to never appear in public config")
	}
}

func TestIsDebug_ReflectsDebugField(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.IsDebug() {
		t.Error("expected debug false by default")
	}
	cfg.Debug = true
	if !cfg.IsDebug() {
		t.Error("expected debug true after setting Debug field")
	}
}

func TestEnsureStorageDir_CreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.StoragePath = dir + "/nested/accounts.json"

	if err := cfg.EnsureStorageDir(); err != nil {
		t.Fatalf("EnsureStorageDir failed: %v", err)
	}

	if info, err := os.Stat(dir + "/nested"); err != nil || !info.IsDir() {
		t.Errorf("expected nested directory to exist, err=%v", err)
	}
}
