// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"routeview/core-go/internal/mapsurface"
	"routeview/core-go/internal/placesearch"
)

type Config struct {
	HTTPAddr    string        `yaml:"http_addr"`
	LogLevel    string        `yaml:"log_level"`
	DatabaseURL string        `yaml:"database_url"`
	Places      PlacesConfig  `yaml:"places"`
	Routing     RoutingConfig `yaml:"routing"`
	Overlay     OverlayConfig `yaml:"overlay"`
	Sessions    SessionConfig `yaml:"sessions"`
}

type PlacesConfig struct {
	// URL of the place-search backend. When empty, places are read from the
	// database instead.
	URL     string        `yaml:"url"`
	Limit   int           `yaml:"limit"`
	Timeout time.Duration `yaml:"timeout"`
}

type RoutingConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type OverlayConfig struct {
	WMSURL string `yaml:"wms_url"`
	Layer  string `yaml:"layer"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

func Default() Config {
	return Config{
		HTTPAddr: ":8081",
		LogLevel: "info",
		Places:   PlacesConfig{Limit: placesearch.DefaultLimit, Timeout: 10 * time.Second},
		Routing:  RoutingConfig{Timeout: 10 * time.Second},
		Overlay:  OverlayConfig{Layer: mapsurface.DefaultRouteLayer},
		Sessions: SessionConfig{IdleTTL: 30 * time.Minute, SweepInterval: time.Minute},
	}
}

// Load reads path (skipped when empty), applies env overrides from getenv and
// validates the result.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := map[string]*string{
		"HTTP_ADDR":    &cfg.HTTPAddr,
		"LOG_LEVEL":    &cfg.LogLevel,
		"DATABASE_URL": &cfg.DatabaseURL,
		"PLACES_URL":   &cfg.Places.URL,
		"ROUTING_URL":  &cfg.Routing.URL,
		"WMS_URL":      &cfg.Overlay.WMSURL,
		"WMS_LAYER":    &cfg.Overlay.Layer,
	}
	for key, dst := range str {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"PLACES_TIMEOUT":         &cfg.Places.Timeout,
		"ROUTING_TIMEOUT":        &cfg.Routing.Timeout,
		"SESSION_TTL":            &cfg.Sessions.IdleTTL,
		"SESSION_SWEEP_INTERVAL": &cfg.Sessions.SweepInterval,
	}
	for key, dst := range durations {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v := strings.TrimSpace(getenv("PLACES_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PLACES_LIMIT: %w", err)
		}
		cfg.Places.Limit = n
	}
	return nil
}

var (
	ErrRoutingURLRequired = errors.New("routing.url (ROUTING_URL) is required")
	ErrWMSURLRequired     = errors.New("overlay.wms_url (WMS_URL) is required")
	ErrPlacesSource       = errors.New("places.url (PLACES_URL) or database_url (DATABASE_URL) is required")
)

func (c Config) Validate() error {
	var errs []error
	if c.Routing.URL == "" {
		errs = append(errs, ErrRoutingURLRequired)
	}
	if c.Overlay.WMSURL == "" {
		errs = append(errs, ErrWMSURLRequired)
	} else if _, err := mapsurface.NewRouteOverlay(c.Overlay.WMSURL, c.Overlay.Layer, "probe"); err != nil {
		errs = append(errs, fmt.Errorf("overlay: %w", err))
	}
	if c.Places.URL == "" && c.DatabaseURL == "" {
		errs = append(errs, ErrPlacesSource)
	}
	if c.Places.Limit <= 0 {
		errs = append(errs, fmt.Errorf("places.limit must be positive, got %d", c.Places.Limit))
	}
	return errors.Join(errs...)
}
