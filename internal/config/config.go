package config

import (
	"errors"
	"path/filepath"
	"slices"

	"github.com/gezibash/arc-shares/internal/observability"
	"github.com/gezibash/arc-shares/internal/storage"
)

type Config struct {
	DataDir       string              `mapstructure:"data_dir"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Storage       StorageConfig       `mapstructure:"storage"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig selects the share backend and the container size cap.
// Config is passed to the backend factory as-is, over its defaults.
type StorageConfig struct {
	Backend          string            `mapstructure:"backend"`
	Config           map[string]string `mapstructure:"config"`
	MaxContainerSize string            `mapstructure:"max_container_size"`
}

type ObservabilityConfig struct {
	LogLevel       string  `mapstructure:"log_level"`
	LogFormat      string  `mapstructure:"log_format"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string  `mapstructure:"otlp_protocol"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
}

// ObsConfig converts to the observability package's config.
func (o ObservabilityConfig) ObsConfig() observability.ObsConfig {
	return observability.ObsConfig{
		LogLevel:       o.LogLevel,
		LogFormat:      o.LogFormat,
		OTLPEndpoint:   o.OTLPEndpoint,
		OTLPProtocol:   o.OTLPProtocol,
		SampleRatio:    o.SampleRatio,
		ServiceName:    o.ServiceName,
		ServiceVersion: o.ServiceVersion,
	}
}

// MaxContainerBytes parses the humanized size cap. The cap must be positive.
func (s StorageConfig) MaxContainerBytes() (int64, error) {
	n, err := storage.ParseSize("max_container_size", s.MaxContainerSize)
	if err != nil {
		var ce *storage.ConfigError
		if errors.As(err, &ce) {
			ce.Component = "storage"
		}
		return 0, err
	}
	if n <= 0 {
		return 0, storage.NewConfigErrorWithValue("storage", "max_container_size", s.MaxContainerSize, "must be positive")
	}
	return n, nil
}

// pathBackends store their data under a local path that defaults to a
// file or directory inside the data dir.
var pathBackends = map[string]string{
	"fs":     "shares",
	"badger": "shares-badger",
	"sqlite": "shares.db",
}

// BackendConfig returns the backend config map with "path" filled in from
// DataDir for local backends that leave it unset.
func (c Config) BackendConfig() map[string]string {
	out := make(map[string]string, len(c.Storage.Config)+1)
	for k, v := range c.Storage.Config {
		out[k] = v
	}
	if name, ok := pathBackends[c.Storage.Backend]; ok && out["path"] == "" {
		out["path"] = filepath.Join(c.DataDir, name)
	}
	return out
}

// Validate checks values that can be checked without touching a backend.
func (c Config) Validate() error {
	if c.Storage.Backend == "" {
		return storage.NewConfigError("storage", "backend", "cannot be empty")
	}
	if _, err := c.Storage.MaxContainerBytes(); err != nil {
		return err
	}
	if !slices.Contains([]string{"text", "json"}, c.Observability.LogFormat) {
		return storage.NewConfigErrorWithValue("observability", "log_format", c.Observability.LogFormat, "must be text or json")
	}
	if !slices.Contains([]string{"http", "grpc"}, c.Observability.OTLPProtocol) {
		return storage.NewConfigErrorWithValue("observability", "otlp_protocol", c.Observability.OTLPProtocol, "must be http or grpc")
	}
	return nil
}
