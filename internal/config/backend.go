package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// ConfigBackend abstracts config storage.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// configExts are the config file formats, in lookup order.
var configExts = []string{"yaml", "json", "toml"}

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "bazar")
}

// configFilePath returns the first existing config file, or the YAML path
// when none exists yet.
func configFilePath() string {
	dir := configDir()
	for _, ext := range configExts {
		p := filepath.Join(dir, "config."+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, "config.yaml")
}

// fileBackend reads and writes a nested config file through viper. The
// format follows the file extension.
type fileBackend struct {
	path string
	v    *viper.Viper
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, v: viper.New()}
	b.v.SetConfigFile(path)
	if err := b.v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		if _, statErr := os.Stat(path); statErr == nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
		}
	}
	return b
}

// Path is the file the backend reads and writes.
func (b *fileBackend) Path() string { return b.path }

func (b *fileBackend) GetString(key string) (string, bool, error) {
	if !b.v.IsSet(key) {
		return "", false, nil
	}
	switch v := b.v.Get(key).(type) {
	case string:
		return v, true, nil
	case map[string]any, []any:
		return "", true, fmt.Errorf("value for %s is not a scalar", key)
	default:
		return fmt.Sprintf("%v", v), true, nil
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	if !b.v.IsSet(key) {
		return 0, false, nil
	}
	switch val := b.v.Get(key).(type) {
	case int:
		return val, true, nil
	case int64:
		return int(val), true, nil
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer or is out of range", val, key)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := b.v.WriteConfigAs(b.path); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return os.Chmod(b.path, 0o600)
}

func (b *fileBackend) SetString(key, val string) error {
	b.v.Set(key, val)
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.v.Set(key, val)
	return b.save()
}

// Delete removes key by rewriting the file without it. Viper cannot unset a
// key in place.
func (b *fileBackend) Delete(key string) error {
	settings := b.v.AllSettings()
	deleteNested(settings, key)
	fresh := viper.New()
	fresh.SetConfigFile(b.path)
	if err := fresh.MergeConfigMap(settings); err != nil {
		return err
	}
	b.v = fresh
	return b.save()
}

func deleteNested(m map[string]any, key string) {
	for i := 0; i < len(key); i++ {
		if key[i] != '.' {
			continue
		}
		if sub, ok := m[key[:i]].(map[string]any); ok {
			deleteNested(sub, key[i+1:])
		}
		return
	}
	delete(m, key)
}
