package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockSecrets is a test double for the secrets file.
type mockSecrets struct {
	values map[string]string
	set    map[string]string
}

func (m *mockSecrets) Get(service, account string) (string, error) {
	if v, ok := m.values[account]; ok && service == secretService {
		return v, nil
	}
	return "", errors.New("not found")
}

func (m *mockSecrets) Set(service, account, value string) error {
	if m.set == nil {
		m.set = map[string]string{}
	}
	m.set[account] = value
	return nil
}

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv blanks every BAZAR_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	t.Setenv("XDG_DATA_HOME", "/var/lib/test-data")
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.yaml", "llm:\n  provider: mock\n")

	cfg, err := loadFromPath(path, &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Server.Enabled || cfg.Server.Port != 8087 {
		t.Errorf("Server = %+v, want enabled on 8087", cfg.Server)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Storage.DataDir != "/var/lib/test-data/bazar" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Catalog.Path != "/var/lib/test-data/bazar/categories.json" {
		t.Errorf("Catalog.Path = %q", cfg.Catalog.Path)
	}
	if cfg.Export.Dir != "/var/lib/test-data/bazar/exports" || !cfg.Export.Enabled {
		t.Errorf("Export = %+v", cfg.Export)
	}
	if cfg.LLM.BaseURL != "https://openrouter.ai/api/v1" || cfg.LLM.Model != "deepseek/deepseek-chat" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLM.Timeout != 45*time.Second || cfg.LLM.Temperature != 0.3 || cfg.LLM.MaxTokens != 1000 {
		t.Errorf("LLM tuning = %v %v %d", cfg.LLM.Timeout, cfg.LLM.Temperature, cfg.LLM.MaxTokens)
	}
	if cfg.Telegram.PollTimeout != 30 || cfg.Telegram.Workers != 4 || cfg.Telegram.BaseURL != "https://api.telegram.org" {
		t.Errorf("Telegram = %+v", cfg.Telegram)
	}
	if !cfg.Flow.DescriptionStep || cfg.MCP.Enabled {
		t.Errorf("Flow/MCP = %+v %+v", cfg.Flow, cfg.MCP)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.yaml", `
llm:
  api_key: file-key
server:
  port: 9000
`)

	t.Setenv("BAZAR_LLM_API_KEY", "env-key")
	t.Setenv("BAZAR_SERVER_PORT", "9100")
	t.Setenv("BAZAR_LLM_TIMEOUT", "10s")
	t.Setenv("BAZAR_FLOW_DESCRIPTION_STEP", "false")

	cfg, err := loadFromPath(path, &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("LLM.APIKey = %q, want env-key", cfg.LLM.APIKey)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.LLM.Timeout != 10*time.Second {
		t.Errorf("LLM.Timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.Flow.DescriptionStep {
		t.Error("Flow.DescriptionStep should be false")
	}
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.yaml", "llm:\n  provider: mock\n")
	t.Setenv("BAZAR_SERVER_PORT", "eighty")

	cfg, err := loadFromPath(path, &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8087 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.yaml", "# empty config\n")

	_, err := loadFromPath(path, &mockSecrets{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q", err)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"backend", "llm:\n  provider: mock\nstorage:\n  backend: postgres\n"},
		{"provider", "llm:\n  provider: llama\n  api_key: k\n"},
		{"port", "llm:\n  provider: mock\nserver:\n  port: 70000\n"},
		{"log level", "llm:\n  provider: mock\nlog:\n  level: loud\n"},
		{"temperature", "llm:\n  provider: mock\n  temperature: 3.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := writeTempConfig(t, "config.yaml", tt.content)
			_, err := loadFromPath(path, &mockSecrets{})
			if err == nil || !strings.Contains(err.Error(), "invalid config") {
				t.Fatalf("err = %v, want invalid config", err)
			}
		})
	}
}

func TestFormats(t *testing.T) {
	files := map[string]string{
		"config.toml": `
[server]
port = 5000

[storage]
backend = "sqlite"
data_dir = "/tmp/bazar-test"

[llm]
api_key = "toml-key-123"
model = "openai/gpt-4o"
`,
		"config.json": `{
  "server": {"port": 5000},
  "storage": {"backend": "sqlite", "data_dir": "/tmp/bazar-test"},
  "llm": {"api_key": "toml-key-123", "model": "openai/gpt-4o"}
}`,
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			path := writeTempConfig(t, name, content)
			cfg, err := loadFromPath(path, &mockSecrets{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Server.Port != 5000 {
				t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
			}
			if cfg.Storage.Backend != "sqlite" || cfg.Storage.DataDir != "/tmp/bazar-test" {
				t.Errorf("Storage = %+v", cfg.Storage)
			}
			if cfg.Catalog.Path != "/tmp/bazar-test/categories.json" {
				t.Errorf("Catalog.Path = %q", cfg.Catalog.Path)
			}
			if cfg.LLM.APIKey != "toml-key-123" || cfg.LLM.Model != "openai/gpt-4o" {
				t.Errorf("LLM = %+v", cfg.LLM)
			}
		})
	}
}

func TestSecretsFallback(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.yaml", "# no secrets in file\n")

	ss := &mockSecrets{values: map[string]string{
		"llm.api_key":    "stored-secret",
		"telegram.token": "123:abc",
	}}
	cfg, err := loadFromPath(path, ss)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "stored-secret" {
		t.Errorf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("Telegram.Token = %q", cfg.Telegram.Token)
	}

	t.Setenv("BAZAR_LLM_API_KEY", "env-wins")
	cfg, err = loadFromPath(path, ss)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "env-wins" {
		t.Errorf("LLM.APIKey = %q, want env-wins", cfg.LLM.APIKey)
	}
}

func TestSecretsFile_RoundTrip(t *testing.T) {
	f := secretsFile{path: filepath.Join(t.TempDir(), "nested", "secrets.json")}
	if _, err := f.Get(secretService, "llm.api_key"); err == nil {
		t.Fatal("expected error before any secret is stored")
	}
	if err := f.Set(secretService, "llm.api_key", "sk-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := f.Set(secretService, "telegram.token", "t-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := f.Get(secretService, "llm.api_key"); err != nil || v != "sk-1" {
		t.Errorf("Get = %q, %v", v, err)
	}
	info, err := os.Stat(f.path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bazar", "config.yaml")
	b := newFileBackend(path)
	ss := &mockSecrets{}

	if err := setKey(b, ss, "server.port", "9090"); err != nil {
		t.Fatalf("setKey port: %v", err)
	}
	if err := setKey(b, ss, "llm.provider", "mock"); err != nil {
		t.Fatalf("setKey provider: %v", err)
	}
	if err := setKey(b, ss, "llm.timeout", "20s"); err != nil {
		t.Fatalf("setKey timeout: %v", err)
	}
	if err := setKey(b, ss, "telegram.token", "123:abc"); err != nil {
		t.Fatalf("setKey token: %v", err)
	}
	if ss.set["telegram.token"] != "123:abc" {
		t.Errorf("secret not routed to secrets file: %+v", ss.set)
	}

	for key, value := range map[string]string{
		"server.port": "high",
		"llm.timeout": "soon",
		"mcp.enabled": "maybe",
		"no.such.key": "x",
	} {
		if err := setKey(b, ss, key, value); err == nil {
			t.Errorf("setKey(%s=%s) should fail", key, value)
		}
	}

	cfg, err := loadFromPath(path, ss)
	if err != nil {
		t.Fatalf("loading written config: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.LLM.Provider != "mock" || cfg.LLM.Timeout != 20*time.Second {
		t.Errorf("reloaded config = %+v %+v", cfg.Server, cfg.LLM)
	}

	if err := b.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	cfg, err = loadFromPath(path, ss)
	if err != nil {
		t.Fatalf("reload after delete: %v", err)
	}
	if cfg.Server.Port != 8087 || cfg.LLM.Provider != "mock" {
		t.Errorf("after delete = %d %s", cfg.Server.Port, cfg.LLM.Provider)
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "sk-secret"
	var sawKey, sawToken bool
	for _, info := range ShowAll(cfg) {
		if strings.Contains(info.Value, "sk-secret") {
			t.Errorf("secret leaked in %s", info.Key)
		}
		switch info.Key {
		case "llm.api_key":
			sawKey = info.Value == "********" && info.Secret
		case "telegram.token":
			sawToken = info.Value == "(not set)"
		}
	}
	if !sawKey || !sawToken {
		t.Errorf("secret display wrong: key=%v token=%v", sawKey, sawToken)
	}
}

func TestValidKeys(t *testing.T) {
	keys := ValidKeys()
	if len(keys) != len(specs) {
		t.Fatalf("ValidKeys returned %d keys, want %d", len(keys), len(specs))
	}
	seen := map[string]bool{}
	for _, s := range specs {
		if seen[s.key] {
			t.Errorf("duplicate key %s", s.key)
		}
		seen[s.key] = true
		if want := "BAZAR_" + strings.ToUpper(strings.ReplaceAll(s.key, ".", "_")); s.env != want {
			t.Errorf("%s env = %s, want %s", s.key, s.env, want)
		}
	}
}
