// Package config loads arc-shares configuration from flags, environment
// (ARC_SHARES_*) and an optional YAML/TOML/JSON file.
package config

import (
	"os"
	"path/filepath"
)

// EnvPrefix prefixes every environment override, e.g.
// ARC_SHARES_STORAGE_BACKEND.
const EnvPrefix = "ARC_SHARES"

// Defaults are the values used when neither file, env nor flag sets a key.
var Defaults = struct {
	LogLevel         string
	LogFormat        string
	HTTPAddr         string
	OTLPProtocol     string
	ServiceName      string
	Backend          string
	MaxContainerSize string
}{
	LogLevel:         "info",
	LogFormat:        "text",
	HTTPAddr:         "127.0.0.1:7788",
	OTLPProtocol:     "http",
	ServiceName:      "arc-shares",
	Backend:          "fs",
	MaxContainerSize: "64MiB",
}

// DefaultDataDir returns the default data directory (~/.arc).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arc"
	}
	return filepath.Join(home, ".arc")
}
