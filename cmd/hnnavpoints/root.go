package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/WazeDev/hn-navpoints/internal/config"
	"github.com/WazeDev/hn-navpoints/internal/logging"
	intOtel "github.com/WazeDev/hn-navpoints/internal/otel"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "hnnavpoints",
	Short: "House number navigation point overlay",
	Long: "Fetches house numbers for map segments and draws their navigation " +
		"point lines and labels onto feature layers.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// without an explicit directory a missing file just means defaults
		err := config.Load(configDir)
		if err != nil && cmd.Flags().Changed("config-dir") {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing hn_navpoints.cfg.json")
}

// runtimeEnv holds the loggers and sinks shared by a command run.
type runtimeEnv struct {
	logs    *logging.SlogManager
	zlog    zerolog.Logger
	otel    *intOtel.Provider
	closers []io.Closer
	start   time.Time
}

func newRuntimeEnv() (*runtimeEnv, error) {
	env := &runtimeEnv{
		logs:  logging.NewSlogManager(),
		start: time.Now(),
	}
	level := config.GetString("logLevel")

	zlevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		zlevel = zerolog.InfoLevel
	}
	env.zlog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zlevel).
		With().Timestamp().Logger()

	var extra []slog.Handler
	if g := config.GetGraylogConfig(); g.Enabled {
		h, c, err := logging.NewGELFHandler(g.Address, level)
		if err != nil {
			return nil, err
		}
		extra = append(extra, h)
		env.closers = append(env.closers, c)
	}

	oc := config.GetOTelConfig()
	otelCfg := intOtel.Config{
		Enabled:      oc.Enabled,
		ServiceName:  oc.ServiceName,
		BatchTimeout: oc.BatchTimeout,
		Endpoint:     oc.Endpoint,
		Insecure:     oc.Insecure,
	}
	if oc.Enabled {
		logsDir := config.GetString("logsDir")
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return nil, fmt.Errorf("create logs dir: %w", err)
		}
		f, err := os.OpenFile(logging.LogFilePath(logsDir, "hnnavpoints.otel", env.start),
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open otel log file: %w", err)
		}
		otelCfg.LogWriter = f
		env.closers = append(env.closers, f)
	}
	env.otel, err = intOtel.New(otelCfg)
	if err != nil {
		return nil, err
	}

	env.logs.Setup(os.Stderr, level, env.otel.LoggerProvider(), extra...)
	return env, nil
}

// logger returns the base logger enriched with attrs from provider.
func (e *runtimeEnv) logger(provider logging.ContextProvider) *slog.Logger {
	return slog.New(logging.NewContextHandler(e.logs.Logger().Handler(), provider))
}

func (e *runtimeEnv) close(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = e.logs.Flush(ctx)
	_ = e.otel.Shutdown(ctx)
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i].Close()
	}
}

func backupPath(name string) string {
	return filepath.Join(config.GetString("logsDir"), name)
}
