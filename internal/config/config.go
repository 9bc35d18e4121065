// Package config loads chainlab configuration from defaults, a TOML file,
// environment variables and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultFile is read from the working directory when no file is given.
	DefaultFile = "chainlab.toml"

	// EnvPrefix prefixes environment overrides, e.g. CHAINLAB_HTTP_ADDR.
	EnvPrefix = "CHAINLAB_"
)

// Config holds all configuration for the application
type Config struct {
	Owner   string        `koanf:"owner" validate:"required"`
	Catalog CatalogConfig `koanf:"catalog"`
	Data    DataConfig    `koanf:"data"`
	HTTP    HTTPConfig    `koanf:"http"`
	Log     LogConfig     `koanf:"log"`

	raw map[string]interface{}
}

// CatalogConfig locates the module catalog.
type CatalogConfig struct {
	Path  string `koanf:"path" validate:"required"`
	Watch bool   `koanf:"watch"`
}

// DataConfig locates committed chains.
type DataConfig struct {
	Dir string `koanf:"dir" validate:"required"`
}

// HTTPConfig configures the editor API.
type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"required,hostname_port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

var validate = validator.New()

func defaults() map[string]interface{} {
	owner := os.Getenv("USER")
	if owner == "" {
		owner = "anonymous"
	}
	return map[string]interface{}{
		"owner": owner,
		"catalog": map[string]interface{}{
			"path":  "catalog",
			"watch": false,
		},
		"data": map[string]interface{}{
			"dir": ".chainlab",
		},
		"http": map[string]interface{}{
			"addr": "127.0.0.1:8080",
		},
		"log": map[string]interface{}{
			"level":  "info",
			"format": "console",
		},
	}
}

// Load loads configuration from defaults, config file, environment variables,
// and overrides. Priority: overrides > env > config file > defaults.
//
// An empty path reads DefaultFile if it exists. Override keys use dotted
// paths such as "http.addr"; empty string values are skipped.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// 2. Config file
	if err := loadFile(k, path); err != nil {
		return nil, err
	}

	// 3. Environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// 4. Overrides
	if set := nonEmpty(overrides); len(set) > 0 {
		if err := k.Load(makeMapProvider(maps.Unflatten(set, ".")), nil); err != nil {
			return nil, fmt.Errorf("loading overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.raw = k.Raw()
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultFile); err != nil {
			return nil
		}
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return fmt.Errorf("loading config file %s: %w", path, err)
	}
	return nil
}

func nonEmpty(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for key, v := range m {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[key] = v
	}
	return out
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(strings.TrimPrefix(e.Namespace(), "Config."))
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, e.Param(), e.Value())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", field, e.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

// TOML renders the effective configuration.
func (c *Config) TOML() ([]byte, error) {
	if c.raw == nil {
		return nil, errors.New("config was not loaded")
	}
	return toml.Parser().Marshal(c.raw)
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
