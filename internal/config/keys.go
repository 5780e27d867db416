package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.enabled", typ: kBool, env: "BAZAR_SERVER_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.Enabled },
	},
	{
		key: "server.port", typ: kInt, env: "BAZAR_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "BAZAR_SERVER_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.backend", typ: kString, env: "BAZAR_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BAZAR_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "catalog.path", typ: kString, env: "BAZAR_CATALOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Path },
	},
	{
		key: "llm.provider", typ: kString, env: "BAZAR_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.base_url", typ: kString, env: "BAZAR_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "BAZAR_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.api_key", typ: kString, env: "BAZAR_LLM_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.timeout", typ: kDuration, env: "BAZAR_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "BAZAR_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm.max_tokens", typ: kInt, env: "BAZAR_LLM_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokens },
	},
	{
		key: "llm.currency", typ: kString, env: "BAZAR_LLM_CURRENCY",
		apply:   func(cfg *Config, v any) { cfg.LLM.Currency = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Currency },
	},
	{
		key: "telegram.token", typ: kString, env: "BAZAR_TELEGRAM_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Telegram.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.Token },
	},
	{
		key: "telegram.base_url", typ: kString, env: "BAZAR_TELEGRAM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Telegram.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.BaseURL },
	},
	{
		key: "telegram.poll_timeout", typ: kInt, env: "BAZAR_TELEGRAM_POLL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Telegram.PollTimeout = v.(int) },
		extract: func(cfg Config) any { return cfg.Telegram.PollTimeout },
	},
	{
		key: "telegram.workers", typ: kInt, env: "BAZAR_TELEGRAM_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Telegram.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Telegram.Workers },
	},
	{
		key: "flow.description_step", typ: kBool, env: "BAZAR_FLOW_DESCRIPTION_STEP",
		apply:   func(cfg *Config, v any) { cfg.Flow.DescriptionStep = v.(bool) },
		extract: func(cfg Config) any { return cfg.Flow.DescriptionStep },
	},
	{
		key: "export.enabled", typ: kBool, env: "BAZAR_EXPORT_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Export.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Export.Enabled },
	},
	{
		key: "export.dir", typ: kString, env: "BAZAR_EXPORT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Export.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.Dir },
	},
	{
		key: "log.level", typ: kString, env: "BAZAR_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "BAZAR_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "mcp.enabled", typ: kBool, env: "BAZAR_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.MCP.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.MCP.Enabled },
	},
}

// parseValue converts raw text to the Go type of s.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return raw, nil
}

func typeName(t keyType) string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	}
	return "string"
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", typeName(s.typ), s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", typeName(s.typ), s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
