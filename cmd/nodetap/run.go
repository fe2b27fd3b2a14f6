package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nodetap/nodetap/internal/breakpoint"
	"github.com/nodetap/nodetap/internal/config"
	"github.com/nodetap/nodetap/internal/history"
	"github.com/nodetap/nodetap/internal/history/factory"
	"github.com/nodetap/nodetap/internal/logger"
	"github.com/nodetap/nodetap/internal/logring"
	"github.com/nodetap/nodetap/internal/metrics"
	"github.com/nodetap/nodetap/internal/server"
	"github.com/nodetap/nodetap/internal/supervisor"
)

const defaultStorePath = "nodetap-breakpoints.db"

// runControlPlane hosts the supervisor, control API and metrics until a
// shutdown signal arrives. listenSet reports whether --listen was given
// explicitly, so a config file's listen address is not clobbered by the
// flag default.
func runControlPlane(f *RunFlags, args []string, listenSet bool) error {
	fc, err := buildFileConfig(f, args)
	if err != nil {
		return err
	}

	listen := fc.Listen
	if listenSet || listen == "" {
		listen = f.Listen
	}

	level := slog.LevelInfo
	if f.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(logger.NewConsole(os.Stderr, level))

	spec := fc.TargetSpec()
	env, err := fc.GlobalEnv()
	if err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	spec.Env = append(env, spec.Env...)

	storePath := fc.BreakpointStore
	if f.StorePath != "" {
		storePath = f.StorePath
	}
	if storePath == "" {
		storePath = defaultStorePath
	}
	store, err := breakpoint.NewStore(context.Background(), storePath)
	if err != nil {
		return fmt.Errorf("breakpoint store: %w", err)
	}
	defer func() { _ = store.Close() }()

	var sinks []history.Sink
	if fc.History != "" {
		sink, err := factory.NewSinkFromDSN(fc.History)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, sink)
		defer func() { _ = sink.Close() }()
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}
	collector := metrics.NewCollector(fc.CollectorConfig())
	if err := collector.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Warn("collector registration failed", "error", err)
	}

	var ring *logring.Ring
	if fc.RingSize > 0 {
		ring = logring.New(fc.RingSize)
	}

	sup, err := supervisor.New(supervisor.Options{
		Spec:    spec,
		Logger:  log,
		Ring:    ring,
		Store:   store,
		History: sinks,
	})
	if err != nil {
		return err
	}
	defer func() { _ = sup.Shutdown() }()

	for _, p := range fc.Patterns {
		sup.Patterns().Add(p.Pattern, p.Label)
	}

	name := spec.Name
	if name == "" {
		name = filepath.Base(spec.Command)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	collector.Start(ctx, name, sup.TargetPID)
	defer collector.Stop()

	if err := sup.Start(); err != nil {
		return fmt.Errorf("target start: %w", err)
	}

	if listen != "" {
		srv, err := server.NewServer(listen, "", sup, collector)
		if err != nil {
			return fmt.Errorf("control API: %w", err)
		}
		defer func() { _ = srv.Close() }()
		log.Info("control API listening", "addr", listen)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	return nil
}

// buildFileConfig loads the TOML config when given, or assembles an
// equivalent one from flags and positional arguments.
func buildFileConfig(f *RunFlags, args []string) (*config.FileConfig, error) {
	var fc *config.FileConfig
	if f.ConfigPath != "" {
		loaded, err := config.Load(f.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		fc = loaded
	} else {
		if len(args) == 0 {
			return nil, fmt.Errorf("target command required: nodetap run [flags] -- <command> [args...]")
		}
		fc = &config.FileConfig{
			Target: config.TargetConfig{
				Command: args[0],
				Args:    args[1:],
			},
		}
	}

	// Flags layer on top of the file.
	if f.Name != "" {
		fc.Target.Name = f.Name
	}
	if f.WorkDir != "" {
		fc.Target.WorkDir = f.WorkDir
	}
	if f.Debug {
		fc.Target.Debug = true
	}
	if f.Agent {
		fc.Target.Inject = true
	}
	if f.Eval {
		fc.Target.Inject = true
		fc.Target.Eval = true
	}
	if f.Interactive {
		fc.Target.Interactive = true
	}
	if f.AutoRestart {
		fc.Target.AutoRestart = true
	}
	if len(f.Watch) > 0 {
		fc.Target.Watch.Paths = append(fc.Target.Watch.Paths, f.Watch...)
	}
	if f.History != "" {
		fc.History = f.History
	}
	return fc, nil
}
