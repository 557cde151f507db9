package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"rework/pkg/applier"
	"rework/pkg/config"
	"rework/pkg/llm"
	"rework/pkg/llm/factory"
	"rework/pkg/logx"
	"rework/pkg/metrics"
	"rework/pkg/orchestrator"
	"rework/pkg/persistence"
	"rework/pkg/utils"
	"rework/pkg/vcs"
)

// configDir holds config, logs and sessions inside the workspace.
const configDir = ".rework"

// app is everything a subcommand needs, built once from flags and config.
//
//nolint:govet // grouped by concern
type app struct {
	cfg      *config.Config
	ws       *applier.Workspace
	repo     vcs.VCS
	store    persistence.TurnStore
	recorder metrics.Recorder
	logger   *logx.Logger
	logPath  string
	stop     context.CancelFunc
}

// setup loads config, routes logs, and opens the workspace, VCS, store and
// metrics exporter. Missing VCS is not an error.
func setup(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	logDir := cfg.Log.Dir
	if logDir == "" {
		logDir = filepath.Join(cfg.Workspace, configDir, "logs")
	}
	logPath, err := logx.InitializeLogFile(logDir, cfg.Log.MaxSizeMB, cfg.Log.Tee)
	if err != nil {
		return nil, err
	}
	logx.SetDebug(cfg.Log.Level == "debug")

	a := &app{cfg: cfg, logger: logx.NewLogger("cli"), logPath: logPath, recorder: metrics.Nop()}
	ctx, a.stop = context.WithCancel(ctx)

	a.ws, err = applier.NewWorkspace(cfg.Workspace, cfg.RespectIgnore)
	if err != nil {
		a.close()
		return nil, err
	}

	repo, err := vcs.Open(a.ws.Root(), false, vcs.Author{})
	switch {
	case err == nil:
		a.repo = repo
	case errors.Is(err, vcs.ErrNotRepository):
		a.logger.Warn("No git repository at %s; auto-commit, diff and commit undo are off", a.ws.Root())
	default:
		a.close()
		return nil, err
	}

	a.store, err = persistence.Open(cfg.Persistence, a.ws.Root())
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.recorder = metrics.NewPrometheusRecorder(reg)
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, reg); err != nil {
				a.logger.Error("Metrics exporter stopped: %v", err)
			}
		}()
	}
	return a, nil
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	workspace := flags.workspace
	if workspace == "" {
		workspace = "."
	}
	path := flags.configPath
	if path == "" {
		candidate := filepath.Join(workspace, configDir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.workspace != "" || cfg.Workspace == "" {
		cfg.Workspace = workspace
	}
	if abs, err := filepath.Abs(cfg.Workspace); err == nil {
		cfg.Workspace = abs
	}
	if flags.format != "" {
		cfg.EditFormat = flags.format
	}
	if flags.mode != "" {
		cfg.Mode = flags.mode
	}
	if flags.provider != "" {
		cfg.Model.Provider = flags.provider
	}
	if flags.model != "" {
		cfg.Model.Name = flags.model
	}
	if flags.noCommit {
		cfg.AutoCommit = false
	}
	if flags.debug {
		cfg.Log.Level = "debug"
	}
	if flags.tee {
		cfg.Log.Tee = true
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = "127.0.0.1:9464"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newSession builds a session over the app. A nil client uses the
// configured provider.
func (a *app) newSession(ctx context.Context, client llm.Client, observer orchestrator.StreamObserver) (*orchestrator.Session, error) {
	if client == nil {
		var err error
		client, err = factory.New(a.cfg, a.recorder)
		if err != nil {
			return nil, err
		}
	}
	counter, err := utils.NewTokenCounter(client.ModelName())
	if err != nil {
		a.logger.Warn("Token counting falls back to estimates: %v", err)
	}
	return orchestrator.New(ctx, orchestrator.Options{
		Config:    a.cfg,
		Client:    client,
		Workspace: a.ws,
		VCS:       a.repo,
		Store:     a.store,
		Recorder:  a.recorder,
		Counter:   counter,
		Observer:  observer,
	})
}

// resume loads id into sess; "last" picks the most recently updated session.
func (a *app) resume(ctx context.Context, sess *orchestrator.Session, id string) error {
	if a.store == nil {
		return orchestrator.ErrNoStore
	}
	if id == "last" {
		sessions, err := a.store.ListSessions(ctx, 1)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			return fmt.Errorf("no stored sessions to resume")
		}
		id = sessions[0].ID
	}
	return sess.Load(ctx, id)
}

func (a *app) close() {
	if a.stop != nil {
		a.stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Closing session store: %v", err)
		}
	}
	if err := logx.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
	}
}
