// Package config loads bazar settings from defaults, a config file, BAZAR_*
// environment variables and a secrets file, in that order of precedence
// (secrets only fill keys still empty).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Catalog  CatalogConfig
	LLM      LLMConfig
	Telegram TelegramConfig
	Flow     FlowConfig
	Export   ExportConfig
	Log      LogConfig
	MCP      MCPConfig
}

type ServerConfig struct {
	Enabled  bool
	Port     int `validate:"min=1,max=65535"`
	APIToken string
}

type StorageConfig struct {
	Backend string `validate:"oneof=file sqlite"`
	DataDir string `validate:"required"`
}

type CatalogConfig struct {
	Path string
}

type LLMConfig struct {
	Provider    string `validate:"oneof=openrouter openai mock"`
	BaseURL     string `validate:"required,url"`
	Model       string `validate:"required"`
	APIKey      string
	Timeout     time.Duration `validate:"gt=0"`
	Temperature float64       `validate:"gte=0,lte=2"`
	MaxTokens   int           `validate:"min=1"`
	Currency    string        `validate:"len=3"`
}

type TelegramConfig struct {
	Token       string
	BaseURL     string `validate:"required,url"`
	PollTimeout int    `validate:"min=0,max=50"`
	Workers     int    `validate:"min=1,max=64"`
}

type FlowConfig struct {
	DescriptionStep bool
}

type ExportConfig struct {
	Enabled bool
	Dir     string
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=text json"`
}

type MCPConfig struct {
	Enabled bool
}

// OffsetFile is where the Telegram transport keeps its update offset.
func (c Config) OffsetFile() string {
	return filepath.Join(c.Storage.DataDir, "telegram.offset")
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled: true,
			Port:    8087,
		},
		Storage: StorageConfig{
			Backend: "file",
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Provider:    "openrouter",
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "deepseek/deepseek-chat",
			Timeout:     45 * time.Second,
			Temperature: 0.3,
			MaxTokens:   1000,
			Currency:    "USD",
		},
		Telegram: TelegramConfig{
			BaseURL:     "https://api.telegram.org",
			PollTimeout: 30,
			Workers:     4,
		},
		Flow:   FlowConfig{DescriptionStep: true},
		Export: ExportConfig{Enabled: true},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "bazar-data"
		}
	}
	return filepath.Join(dir, "bazar")
}

// Load reads configuration from the config file at
// $XDG_CONFIG_HOME/bazar/config.{yaml,json,toml}, BAZAR_* environment
// variables, and the secrets file at $XDG_DATA_HOME/bazar/secrets.json.
func Load() (Config, error) {
	cfg, err := LoadPartial()
	if err != nil {
		return Config{}, err
	}
	return cfg, requireCredentials(cfg)
}

// LoadPartial is Load without the model credential check. Commands that only
// talk to a running server use it.
func LoadPartial() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// secretStore abstracts secret lookup for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

const secretService = "bazar"

var validate = validator.New()

func loadFromPath(path string, ss secretStore) (Config, error) {
	cfg, err := loadWith(newFileBackend(path), ss)
	if err != nil {
		return Config{}, err
	}
	return cfg, requireCredentials(cfg)
}

func loadWith(b ConfigBackend, ss secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := ss.Get(secretService, s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = filepath.Join(cfg.Storage.DataDir, "categories.json")
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = filepath.Join(cfg.Storage.DataDir, "exports")
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func requireCredentials(cfg Config) error {
	if cfg.LLM.Provider != "mock" && cfg.LLM.APIKey == "" {
		return fmt.Errorf("missing required config: LLM API key for provider %q. "+
			"Set it via environment variable BAZAR_LLM_API_KEY or `bazar config set llm.api_key <key>`, "+
			"or use llm.provider=mock", cfg.LLM.Provider)
	}
	return nil
}
