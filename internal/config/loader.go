package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "vulndash.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "vulndash.yml"

// EnvPrefix prefixes environment overrides, e.g. VULNDASH_BACKEND__TOKEN.
const EnvPrefix = "VULNDASH_"

// FindConfigFile returns path if set, else the first config file found in
// dir. It returns "" when there is none.
func FindConfigFile(path, dir string) string {
	if path != "" {
		return path
	}
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// NewKoanf loads defaults, the config file (if any) and environment
// variables, lowest priority first. Callers may load more providers on top.
func NewKoanf(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// VULNDASH_UI__REFRESH_INTERVAL -> ui.refresh_interval
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	return k, nil
}

// Unmarshal decodes k into a Config, applies defaults and validates it.
func Unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile loads a configuration without command-line overrides. It is
// used to reload descriptors when the file changes.
func LoadFile(path string) (*Config, error) {
	k, err := NewKoanf(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(k)
}
