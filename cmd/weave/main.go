package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"weave/internal/bootstrap"
	"weave/internal/config"
	"weave/internal/logging"
	"weave/internal/repl"
	"weave/internal/tui"
)

func main() {
	var (
		configPath string
		backend    string
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flag.StringVar(&backend, "backend", "", "Backend override: memory | local | http")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if backend != "" {
		cfg.Backend.Mode = backend
	}

	logger, err := logging.New(logConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("weave stopped", zap.Error(err))
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	app, err := bootstrap.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Close(ctx); err != nil {
			logger.Warn("close app", zap.Error(err))
		}
	}()

	ctx := context.Background()
	if err := app.Load(ctx); err != nil {
		// an expired login still opens the REPL so /login can fix it
		logger.Warn("initial load failed", zap.Error(err))
		app.Board.PostGlobal(err)
	}

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, app, logger)
		defer stop()
	}

	input, inputErr := repl.NewLineInput(cfg.Storage.HistoryFile)
	if inputErr != nil {
		fmt.Fprintf(os.Stderr, "line editor unavailable, fallback to basic input: %v\n", inputErr)
	}
	defer input.Close()

	loop := repl.New(app, input, uiOptions(cfg))
	return loop.Run(ctx)
}

// logConfig keeps log lines out of the terminal: without explicit outputs
// the REPL logs to a file under the storage directory.
func logConfig(cfg config.Config) logging.Config {
	out := cfg.Log.OutputPaths
	if len(out) == 0 {
		out = []string{filepath.Join(cfg.Storage.BaseDir, "weave.log")}
	}
	return logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		OutputPaths: out,
	}
}

func uiOptions(cfg config.Config) repl.Options {
	fd := int(os.Stdout.Fd())
	interactive := term.IsTerminal(fd) && term.IsTerminal(int(os.Stdin.Fd()))
	opts := repl.Options{
		Interactive: interactive,
		Follow:      cfg.UI.Follow,
		Markdown:    cfg.UI.Markdown,
		Theme:       tui.PlainTheme(),
	}
	if interactive {
		opts.Theme = tui.DarkTheme()
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			opts.Width = w
		}
	}
	return opts
}

func serveMetrics(addr string, app *bootstrap.App, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
