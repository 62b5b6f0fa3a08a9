package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/arc-shares/internal/config"
	"github.com/gezibash/arc-shares/internal/observability"
	"github.com/gezibash/arc-shares/internal/sharestore"
	"github.com/gezibash/arc-shares/internal/sharestore/physical"
)

// Env is what a command's Run function gets: the loaded config, an opened
// share store, observability and an output renderer.
type Env struct {
	Config config.Config
	Store  *sharestore.ShareStore
	Obs    *observability.Observability
	Out    *Output
}

// CommandConfig configures a share store command.
type CommandConfig struct {
	// Name identifies the command in logs.
	Name string

	Viper *viper.Viper

	// ConfigFile is an explicit config path; empty searches the defaults.
	ConfigFile string

	// Timeout bounds Run. Zero means no timeout.
	Timeout time.Duration

	// Stdout receives rendered output. Defaults to os.Stdout.
	Stdout io.Writer

	// LogWriter receives logs. Nil logs to {data_dir}/log/cli.log so
	// rendered output stays clean.
	LogWriter io.Writer

	Run func(ctx context.Context, env *Env) error
}

// RunCommand loads config, sets up observability, opens the configured
// backend and share store, then calls Run. Everything is closed on return.
func RunCommand(ctx context.Context, cfg CommandConfig) (err error) {
	if cfg.Name == "" {
		return fmt.Errorf("command name required")
	}
	if cfg.Viper == nil {
		return fmt.Errorf("viper required")
	}
	if cfg.Run == nil {
		return fmt.Errorf("run function required")
	}

	conf, err := config.Load(cfg.Viper, cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logw := cfg.LogWriter
	if logw == nil {
		f := openLogFile(conf.DataDir)
		if f != nil {
			defer f.Close()
			logw = f
		} else {
			logw = io.Discard
		}
	}

	obs, err := observability.New(ctx, conf.Observability.ObsConfig(), logw)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := obs.Close(shutdownCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	obs.Logger.Debug("command starting", "command", cfg.Name, "backend", conf.Storage.Backend)

	store, err := OpenStore(ctx, conf, obs.Metrics)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	out := NewOutput(ParseFormat(cfg.Viper.GetString("output")), stdout)

	return cfg.Run(ctx, &Env{Config: conf, Store: store, Obs: obs, Out: out})
}

// OpenStore creates the configured backend and wraps it in a ShareStore.
func OpenStore(ctx context.Context, conf config.Config, metrics *observability.Metrics) (*sharestore.ShareStore, error) {
	maxSize, err := conf.Storage.MaxContainerBytes()
	if err != nil {
		return nil, err
	}
	backend, err := physical.New(ctx, conf.Storage.Backend, conf.BackendConfig(), metrics)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", conf.Storage.Backend, err)
	}
	store, err := sharestore.New(backend, metrics, sharestore.Options{MaxContainerSize: maxSize})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return store, nil
}

func openLogFile(dataDir string) *os.File {
	logDir := filepath.Join(dataDir, "log")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(logDir, "cli.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is built from the data dir
	if err != nil {
		return nil
	}
	return f
}
