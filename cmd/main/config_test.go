package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	isolateEnv(t)
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() failed: %v", err)
			}
			if cfg.Server.Port != 5000 || cfg.Generation.DefaultMaxTokens != 400 {
				t.Errorf("unexpected defaults: %+v %+v", cfg.Server, cfg.Generation)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("default config was not written: %v", err)
			}
			wantKey := `"server_config"`
			if isYAML(path) {
				wantKey = "server_config:"
			}
			if !strings.Contains(string(data), wantKey) {
				t.Errorf("written config does not contain %s:\n%s", wantKey, data)
			}

			again, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() of written defaults failed: %v", err)
			}
			if again.Server.Addr() != cfg.Server.Addr() || again.Remote.Backend != cfg.Remote.Backend {
				t.Errorf("reloaded config differs: %+v vs %+v", again.Server, cfg.Server)
			}
		})
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.yml")
	content := "server_config:\n  host: 127.0.0.1\n  port: 8080\n  api_addr: 127.0.0.1:8081\n  log_level: debug\n  database_path: ./q.db\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.Server.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q, want 127.0.0.1:8080", cfg.Server.Addr())
	}
	if cfg.Generation == nil || cfg.Remote == nil || cfg.Telemetry == nil {
		t.Fatal("missing sections were not filled with defaults")
	}
	if cfg.Generation.DefaultModel != "gpt-4o-mini" {
		t.Errorf("DefaultModel = %q, want gpt-4o-mini", cfg.Generation.DefaultModel)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9090")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QUILL_REMOTE_BACKEND", "claude")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9090", cfg.Server.Addr())
	}
	if cfg.Remote.Backend != "claude" || cfg.Remote.OpenAI.APIKey != "sk-test" || cfg.Remote.Claude.APIKey != "ak-test" {
		t.Errorf("remote overrides not applied: %+v", cfg.Remote)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-test") {
		t.Error("environment credentials were written to the config file")
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "Bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, errMsg: "port"},
		{name: "Bad log level", mutate: func(c *Config) { c.Server.LogLevel = "verbose" }, errMsg: "log_level"},
		{name: "Unknown backend", mutate: func(c *Config) { c.Remote.Backend = "gemini" }, errMsg: "backend"},
		{name: "Zero budget", mutate: func(c *Config) { c.Generation.DefaultMaxTokens = 0 }, errMsg: "default_max_tokens"},
		{name: "Zero temperature", mutate: func(c *Config) { c.Generation.DefaultTemperature = 0 }, errMsg: "default_temperature"},
		{name: "Negative limit", mutate: func(c *Config) { c.Generation.MaxTokensLimit = -1 }, errMsg: "max_tokens_limit"},
		{name: "Missing service name", mutate: func(c *Config) { c.Telemetry.ServiceName = "" }, errMsg: "service_name"},
		{name: "Missing section", mutate: func(c *Config) { c.Remote = nil }, errMsg: "sections"},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("error %q does not mention %q", err, tc.errMsg)
			}
		})
	}
}

func TestConfigManagerUpdateKeepsMaskedSecrets(t *testing.T) {
	cm := newTestConfigManager(t)
	cfg := cm.Get()
	cfg.Remote.OpenAI.APIKey = "sk-secret"
	if err := cm.Update(cfg); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	current := cm.Get()
	redacted := current.Redacted()
	if redacted.Remote.OpenAI.APIKey != redactedSecret {
		t.Fatalf("Redacted() key = %q, want it masked", redacted.Remote.OpenAI.APIKey)
	}
	if current.Remote.OpenAI.APIKey != "sk-secret" {
		t.Fatal("Redacted() modified the original config")
	}

	redacted.Server.Port = 6000
	if err := cm.Update(redacted); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	updated := cm.Get()
	if updated.Remote.OpenAI.APIKey != "sk-secret" {
		t.Errorf("masked key replaced the stored one: %q", updated.Remote.OpenAI.APIKey)
	}
	if updated.Server.Port != 6000 {
		t.Errorf("Port = %d, want 6000", updated.Server.Port)
	}

	invalid := cm.Get()
	invalid.Server.LogLevel = "loud"
	if err := cm.Update(invalid); err == nil {
		t.Error("Update() accepted an invalid config")
	}
}

func TestConfigManagerUpdateKeepsEnvOutOfFile(t *testing.T) {
	isolateEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env-secret")
	t.Setenv("PORT", "9090")
	path := filepath.Join(t.TempDir(), "config.json")
	cm, err := NewConfigManager(path)
	if err != nil {
		t.Fatalf("NewConfigManager() failed: %v", err)
	}
	cm.SetLogger(discardLogger())

	current := cm.Get()
	if current.Server.Port != 9090 || current.Remote.OpenAI.APIKey != "sk-env-secret" {
		t.Fatalf("environment overrides not applied: port %d, key %q", current.Server.Port, current.Remote.OpenAI.APIKey)
	}

	edited := current.Redacted()
	edited.Server.LogLevel = "debug"
	if err = cm.Update(edited); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-env-secret") || strings.Contains(string(data), redactedSecret) {
		t.Errorf("environment credential or mask was written to the config file:\n%s", data)
	}
	if strings.Contains(string(data), "9090") {
		t.Errorf("environment port was written to the config file:\n%s", data)
	}
	if !strings.Contains(string(data), `"log_level": "debug"`) {
		t.Errorf("edited setting was not saved:\n%s", data)
	}

	updated := cm.Get()
	if updated.Server.Port != 9090 || updated.Remote.OpenAI.APIKey != "sk-env-secret" || updated.Server.LogLevel != "debug" {
		t.Errorf("effective config lost overrides or edits: port %d, key %q, level %q",
			updated.Server.Port, updated.Remote.OpenAI.APIKey, updated.Server.LogLevel)
	}

	stored, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("loadFileConfig() failed: %v", err)
	}
	if stored.Server.Port != 5000 || stored.Remote.OpenAI.APIKey != "" {
		t.Errorf("stored config = port %d, key %q; want the file values", stored.Server.Port, stored.Remote.OpenAI.APIKey)
	}
}

func TestConfigManagerIsTrusted(t *testing.T) {
	cm := newTestConfigManager(t)
	cfg := cm.Get()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "192.168.1.5", "not-an-ip"}
	if err := cm.Update(cfg); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	for ip, want := range map[string]bool{
		"10.1.2.3":    true,
		"192.168.1.5": true,
		"192.168.1.6": false,
		"garbage":     false,
	} {
		if got := cm.IsTrusted(ip); got != want {
			t.Errorf("IsTrusted(%q) = %v, want %v", ip, got, want)
		}
	}
}
