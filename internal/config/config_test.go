package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %s", cfg.Port)
	}
	if cfg.DefaultProvider != "leajlak" {
		t.Errorf("default provider = %s", cfg.DefaultProvider)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("timeout = %v", cfg.RequestTimeout)
	}
	if cfg.CreateRetries != 3 || cfg.RetryBackoff != 100*time.Millisecond {
		t.Errorf("retry config = %d/%v", cfg.CreateRetries, cfg.RetryBackoff)
	}
	if cfg.Leajlak.DefaultShopID != "210" || cfg.Shadda.DefaultShopID != "11183" {
		t.Errorf("default shops = %s/%s", cfg.Leajlak.DefaultShopID, cfg.Shadda.DefaultShopID)
	}
	if !cfg.Leajlak.SendJSON || !cfg.Leajlak.CancelViaDelete {
		t.Error("leajlak encoding defaults wrong")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEFAULT_SHIPPING_PROVIDER", "shadda")
	t.Setenv("SHIPPING_API_URL", "https://a.example")
	t.Setenv("SHIPPING_API_KEY", "key-1")
	t.Setenv("SHIPPING_SEND_JSON", "false")
	t.Setenv("SHADDA_CLIENT_ID", "c-9")
	t.Setenv("SHIPPING_REQUEST_TIMEOUT", "12s")
	t.Setenv("SHIPPING_CREATE_RETRIES", "5")
	t.Setenv("SHIPPING_RATE_LIMIT", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultProvider != "shadda" {
		t.Errorf("default provider = %s", cfg.DefaultProvider)
	}
	if cfg.Leajlak.BaseURL != "https://a.example" || cfg.Leajlak.APIKey != "key-1" {
		t.Errorf("leajlak = %+v", cfg.Leajlak)
	}
	if cfg.Leajlak.SendJSON {
		t.Error("SendJSON override ignored")
	}
	if cfg.Shadda.ClientID != "c-9" {
		t.Errorf("shadda client id = %s", cfg.Shadda.ClientID)
	}
	if cfg.RequestTimeout != 12*time.Second || cfg.CreateRetries != 5 {
		t.Errorf("timeout/retries = %v/%d", cfg.RequestTimeout, cfg.CreateRetries)
	}
	if cfg.ProviderRateLimit != 2.5 {
		t.Errorf("rate limit = %v", cfg.ProviderRateLimit)
	}
}

func TestYAMLFileWithEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
port: "9090"
defaultProvider: shadda
leajlak:
  baseUrl: https://file.example
  apiKey: from-file
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SHIPPING_API_KEY", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9090" || cfg.DefaultProvider != "shadda" {
		t.Errorf("file values not applied: %s/%s", cfg.Port, cfg.DefaultProvider)
	}
	if cfg.Leajlak.BaseURL != "https://file.example" {
		t.Errorf("baseUrl = %s", cfg.Leajlak.BaseURL)
	}
	if cfg.Leajlak.APIKey != "from-env" {
		t.Errorf("env must win over file, got %s", cfg.Leajlak.APIKey)
	}
}

func TestBadConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
