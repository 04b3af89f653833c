package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"weave/internal/auth"
	"weave/internal/backend"
	"weave/internal/backend/local"
	"weave/internal/config"
	"weave/internal/folder"
	"weave/internal/i18n"
	"weave/internal/jobs"
	"weave/internal/metrics"
	"weave/internal/notice"
	"weave/internal/provider"
	"weave/internal/session"
	"weave/internal/storage"
)

// App 与 UI 无关的构建结果，供 main 构造 REPL
// App is UI-agnostic; main uses it to construct the REPL
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	I18n      *i18n.I18n
	Backend   backend.Backend
	Generator provider.Generator
	// Auth is nil unless the backend is the HTTP client.
	Auth    *auth.Session
	Board   *notice.Board
	Store   *session.Store
	Jobs    *jobs.Orchestrator
	Folders *folder.Aggregator

	closers []func() error
}

// Build 按依赖顺序初始化；调用方负责 defer app.Close()
// Build initializes in dependency order; caller must defer app.Close()
func Build(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		I18n:    i18n.New(cfg.UI.Locale),
		Board:   notice.NewBoard(),
	}
	app.Generator = NewGenerator(cfg)

	switch cfg.Backend.Mode {
	case "memory":
		app.Backend = buildMemory()
	case "local":
		be, closeFn, err := OpenLocal(cfg, app.Generator, logger)
		if err != nil {
			return nil, err
		}
		app.Backend = be
		app.closers = append(app.closers, closeFn)
	case "http":
		client, err := buildHTTP(cfg, logger)
		if err != nil {
			return nil, err
		}
		app.Backend = client
		app.Auth = client.Auth()
	default:
		return nil, fmt.Errorf("unknown backend mode %q", cfg.Backend.Mode)
	}

	app.Store = session.New(app.Backend, session.Options{
		DebounceWindow: cfg.DebounceWindow(),
		Logger:         logger,
		Metrics:        app.Metrics,
	})
	app.Jobs = jobs.New(app.Backend, app.Store, jobs.Options{
		PollInterval: cfg.PollInterval(),
		MaxAttempts:  cfg.Jobs.PollMaxAttempts,
		Validator:    buildValidator(cfg),
		Source:       provider.Streamer{Gen: app.Generator},
		Board:        app.Board,
		I18n:         app.I18n,
		Logger:       logger,
		Metrics:      app.Metrics,
	})
	app.Folders = folder.New(app.Backend, app.Store, folder.Options{
		Planner: buildPlanner(cfg, logger),
		I18n:    app.I18n,
		Logger:  logger,
	})

	logger.Info("weave ready",
		zap.String("backend", cfg.Backend.Mode),
		zap.String("generator", app.Generator.Name()),
		zap.String("locale", app.I18n.Locale()),
	)
	return app, nil
}

// Load 拉取会话与文件夹列表
// Load fetches the session and folder lists
func (a *App) Load(ctx context.Context) error {
	if _, err := a.Store.List(ctx); err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if err := a.Folders.Load(ctx); err != nil {
		return fmt.Errorf("list folders: %w", err)
	}
	return nil
}

// Close 写出待保存的编辑并释放资源
// Close flushes pending edits and releases resources
func (a *App) Close(ctx context.Context) error {
	a.Store.FlushPending(ctx)
	a.Folders.Close()
	a.Store.Close()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

// OpenLocal 打开 SQLite 并启动本地后端；返回的 close 依次停止执行器并关闭数据库
// OpenLocal opens SQLite and starts the local backend; the returned close stops the executor, then the database
func OpenLocal(cfg config.Config, gen provider.Generator, logger *zap.Logger) (*local.Backend, func() error, error) {
	st, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}
	be, err := local.New(st, local.Options{
		Generator:  gen,
		JobTimeout: providerTimeout(cfg),
		Logger:     logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("init local backend: %w", err)
	}
	closeFn := func() error {
		return errors.Join(be.Close(), st.Close())
	}
	return be, closeFn, nil
}
