package config

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// SetDefaults configures the standard defaults on a Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("http.addr", Defaults.HTTPAddr)

	v.SetDefault("observability.log_level", Defaults.LogLevel)
	v.SetDefault("observability.log_format", Defaults.LogFormat)
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", Defaults.OTLPProtocol)
	v.SetDefault("observability.sample_ratio", 1.0)
	v.SetDefault("observability.service_name", Defaults.ServiceName)
	v.SetDefault("observability.service_version", "dev")

	v.SetDefault("storage.backend", Defaults.Backend)
	v.SetDefault("storage.max_container_size", Defaults.MaxContainerSize)
}

// BindFlags binds the persistent flags shared by every subcommand.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()

	f.String("config", "", "config file path")
	f.String("data-dir", "", "data directory (default ~/.arc)")
	f.String("backend", "", "share backend (fs, badger, memory, s3, seaweedfs, redis, sqlite)")
	f.String("max-container-size", "", "largest container accepted on write (e.g. 64MiB)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")

	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("storage.backend", f.Lookup("backend"))
	_ = v.BindPFlag("storage.max_container_size", f.Lookup("max-container-size"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
}

// BindServeFlags binds flags specific to the serve command.
func BindServeFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	f.String("addr", "", "HTTP listen address for shares, /metrics and /health")
	f.String("otlp-endpoint", "", "OTLP trace collector endpoint (host:port)")

	_ = v.BindPFlag("http.addr", f.Lookup("addr"))
	_ = v.BindPFlag("observability.otlp_endpoint", f.Lookup("otlp-endpoint"))
}

// Load applies defaults, reads env and the config file, and returns the
// merged, validated Config. A missing config file is only an error when
// configFile names it explicitly.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("shares")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.arc")
		v.AddConfigPath("/etc/arc")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
