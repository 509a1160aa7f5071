// Package config loads the service configuration from a JSON or YAML file
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/openfleet/dispatchd/api"
	"github.com/openfleet/dispatchd/core/telemetry"
	"github.com/openfleet/dispatchd/infra/metrics"
	"github.com/openfleet/dispatchd/infra/mqtt"
	"github.com/openfleet/dispatchd/infra/notify"
	"github.com/openfleet/dispatchd/infra/routing"
	"github.com/openfleet/dispatchd/infra/store/postgres"
	"github.com/openfleet/dispatchd/simulator"
)

type Config struct {
	API       api.Config       `json:"api"`
	MQTT      mqtt.Config      `json:"mqtt"`
	Metrics   metrics.Config   `json:"metrics"`
	Notify    notify.Config    `json:"notify"`
	Postgres  postgres.Config  `json:"postgres"`
	Routing   routing.Config   `json:"routing"`
	Telemetry telemetry.Config `json:"telemetry"`
	Geofence  GeofenceConfig   `json:"geofence"`
	Logging   LoggingConfig    `json:"logging"`
	Simulator simulator.Config `json:"simulator"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("DISPATCHD_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "dispatchd_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.API.SetDefaults()
	cfg.Routing.SetDefaults()
	cfg.Telemetry.SetDefaults()
	cfg.Logging.SetDefaults()
	cfg.Simulator.SetDefaults()
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Routing.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Geofence.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
