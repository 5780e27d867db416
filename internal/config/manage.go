package config

import (
	"fmt"
	"strconv"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

// ShowAll returns all config key/value pairs from cfg. Secret values are
// masked.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		info := KeyInfo{Key: s.key, EnvVar: s.env, Secret: s.secret}
		switch {
		case s.secret && s.extract(cfg).(string) != "":
			info.Value = "********"
		case s.secret:
			info.Value = "(not set)"
		default:
			info.Value = fmt.Sprintf("%v", s.extract(cfg))
		}
		result = append(result, info)
	}
	return result
}

// SetKey writes a config key. Secrets go to the secrets file, everything
// else to the config file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()}, key, value)
}

// ConfigFile is the path SetKey writes non-secret keys to.
func ConfigFile() string { return configFilePath() }

type secretWriter interface {
	Set(service, account, value string) error
}

func setKey(b ConfigBackend, sw secretWriter, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return sw.Set(secretService, key, value)
		}
		if s.typ == kInt {
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			return b.SetInt(key, i)
		}
		if _, err := parseValue(s, value); err != nil {
			return fmt.Errorf("invalid %s value for %s: %w", typeName(s.typ), key, err)
		}
		return b.SetString(key, value)
	}

	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of config key names.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
