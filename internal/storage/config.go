package storage

import (
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// GetString returns config[key], or defaultValue when missing or empty.
func GetString(config map[string]string, key, defaultValue string) string {
	if v, ok := config[key]; ok && v != "" {
		return v
	}
	return defaultValue
}

// GetBool parses true/false, 1/0 or yes/no (case-insensitive).
func GetBool(config map[string]string, key string, defaultValue bool) (bool, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultValue, nil
	}

	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, &ConfigError{Key: key, Value: v, Message: "must be a boolean (true/false, 1/0, yes/no)"}
}

// GetInt parses a decimal integer.
func GetInt(config map[string]string, key string, defaultValue int) (int, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultValue, nil
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Value: v, Message: "must be an integer", Cause: err}
	}
	return i, nil
}

// GetSize parses a byte size such as "64MiB", "1GB" or a plain byte count.
func GetSize(config map[string]string, key string, defaultValue int64) (int64, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultValue, nil
	}
	return ParseSize(key, v)
}

// ParseSize parses a human readable byte size for key.
func ParseSize(key, v string) (int64, error) {
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Value: v, Message: "must be a byte size (e.g. '64MiB', '1GB')", Cause: err}
	}
	if n > 1<<62 {
		return 0, &ConfigError{Key: key, Value: v, Message: "byte size out of range"}
	}
	return int64(n), nil
}

// GetDuration parses a Go duration ("5s", "1m30s") or integer seconds.
func GetDuration(config map[string]string, key string, defaultValue time.Duration) (time.Duration, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultValue, nil
	}

	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, &ConfigError{Key: key, Value: v, Message: "must be a duration (e.g. '5s', '1m30s') or integer seconds"}
}

// GetFileMode parses an octal permission string such as "0700".
func GetFileMode(config map[string]string, key string, defaultMode os.FileMode) (os.FileMode, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultMode, nil
	}

	m, err := strconv.ParseUint(v, 8, 32)
	if err != nil {
		return 0, &ConfigError{Key: key, Value: v, Message: "must be an octal permission string (e.g. 0700)", Cause: err}
	}
	return os.FileMode(m), nil
}

// ExpandPath expands a leading ~/ to the home directory and cleans the path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return filepath.Clean(path)
}

// MergeConfig returns a new map holding dst overlaid with src.
func MergeConfig(dst, src map[string]string) map[string]string {
	result := make(map[string]string, len(dst)+len(src))
	maps.Copy(result, dst)
	maps.Copy(result, src)
	return result
}
