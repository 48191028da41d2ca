package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"arenaclient/applog"
	"arenaclient/config"
	"arenaclient/coordinator"
	"arenaclient/engine"
	"arenaclient/gateway"
	"arenaclient/portpool"
	"arenaclient/results"
	"arenaclient/session"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to YAML config file")
	listenAddr := pflag.String("listen", "", "override listen address")
	engineExe := pflag.String("engine-exe", "", "override engine executable path")
	engineData := pflag.String("engine-data", "", "override engine data directory")
	resultLog := pflag.String("result-log", "", "override result log path")
	logDir := pflag.String("log-dir", "", "override log directory")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *engineExe != "" {
		cfg.EngineExe = *engineExe
	}
	if *engineData != "" {
		cfg.EngineDataDir = *engineData
	}
	if *resultLog != "" {
		cfg.ResultLogPath = *resultLog
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, _ := cfg.ZapLevel()
	applog.Initialize(cfg.LogDir, cfg.ListenAddr, level)
	defer applog.Shutdown()
	applog.LogStartup(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		applog.Error("Server failed", zap.Error(err))
		applog.Shutdown()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		return fmt.Errorf("could not create work root: %w", err)
	}

	deps := session.Deps{
		Launcher: &engine.ProcessLauncher{
			ExePath:        cfg.EngineExe,
			DataDir:        cfg.EngineDataDir,
			StartupTimeout: cfg.EngineStartupTimeout,
		},
		Ports:                portpool.New(),
		WorkRoot:             cfg.WorkRoot,
		PlayerConnectTimeout: cfg.PlayerConnectTimeout,
		EndingGrace:          cfg.EndingGrace,
	}

	if cfg.CaptureTraffic {
		capture, err := results.NewTrafficCapture(filepath.Join(cfg.WorkRoot, "traffic.zst"))
		if err != nil {
			applog.Warn("Traffic capture disabled", zap.Error(err))
		} else {
			deps.Recorder = capture
			defer capture.Close()
		}
	}

	coord := coordinator.New(coordinator.Config{
		MaxConcurrent: cfg.MaxConcurrentMatches,
		MaxQueued:     cfg.MaxQueuedMatches,
	}, deps)

	var uploader *results.Uploader
	if cfg.LadderUploadURL != "" {
		uploader = results.NewUploader(cfg.LadderUploadURL, cfg.LadderUploadToken)
	}
	agg := results.NewAggregator(cfg.ResultLogPath, uploader)

	gw := gateway.New(gateway.Config{
		Addr:     cfg.ListenAddr,
		MaxConns: cfg.MaxConnections,
	}, coord, agg)

	serveErr := gw.ListenAndServe(ctx)

	applog.Info("Gateway stopped, draining sessions")
	if err := coord.DrainTimeout(30 * time.Second); err != nil {
		applog.Warn("Sessions still running, aborting them", zap.Error(err))
		coord.AbortAll()
		_ = coord.DrainTimeout(10 * time.Second)
	}

	return serveErr
}
