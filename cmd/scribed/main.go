// Command scribed is the hotkey speech-to-text session daemon. It watches
// a file inbox for transcription requests, keeps the whisper model warm
// between requests, and releases it after the idle timeout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scribed/internal/config"
	"scribed/internal/daemon"
	"scribed/internal/health"
	"scribed/internal/ipc"
	"scribed/internal/observe"
	"scribed/pkg/audio"
	"scribed/pkg/engine"
	"scribed/pkg/engine/whispercpp"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "scribed.yaml", "path to the YAML configuration file")
	timeoutFlag := flag.Duration("timeout", 0, "override daemon.session_timeout (0 keeps the configured value)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scribed: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scribed: %v\n", err)
		}
		return 1
	}
	if *timeoutFlag > 0 {
		cfg.Daemon.SessionTimeout = *timeoutFlag
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Daemon.LogLevel)
	slog.SetDefault(logger)

	slog.Info("scribed starting",
		"config", *configPath,
		"runtime_dir", cfg.Daemon.RuntimeDir,
		"model", cfg.Engine.ModelPath,
		"session_timeout", cfg.Daemon.SessionTimeout,
		"log_level", cfg.Daemon.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "scribed",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Single instance ───────────────────────────────────────────────────────
	if err := os.MkdirAll(cfg.Daemon.RuntimeDir, 0o755); err != nil {
		slog.Error("failed to create runtime directory", "dir", cfg.Daemon.RuntimeDir, "err", err)
		return 1
	}
	lock, err := ipc.AcquirePIDLock(cfg.Daemon.PIDFile(), cfg.Daemon.StatusFile())
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			slog.Info("another daemon is already serving this runtime directory", "err", err)
			return 0
		}
		slog.Error("failed to acquire pid lock", "err", err)
		return 1
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("pid lock release error", "err", err)
		}
	}()

	// ── Engine ────────────────────────────────────────────────────────────────
	eng, err := buildEngine(cfg)
	if err != nil {
		slog.Error("failed to create speech engine", "err", err)
		return 1
	}

	// ── Daemon ────────────────────────────────────────────────────────────────
	d, err := daemon.New(cfg, eng)
	if err != nil {
		slog.Error("failed to initialise daemon", "err", err)
		return 1
	}

	// ── Debug server (optional) ───────────────────────────────────────────────
	if cfg.Debug.ListenAddr != "" {
		srv := newDebugServer(cfg)
		go func() {
			slog.Info("debug server listening", "addr", cfg.Debug.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("debug server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("debug server shutdown error", "err", err)
			}
		}()
	}

	slog.Info("daemon ready, press Ctrl+C to shut down")

	if err := d.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildEngine constructs the whisper.cpp engine from config.
func buildEngine(cfg *config.Config) (engine.Engine, error) {
	opts := []whispercpp.Option{}
	if cfg.Engine.Language != "" {
		opts = append(opts, whispercpp.WithLanguage(cfg.Engine.Language))
	}
	if v := cfg.Audio.VAD; v.Threshold > 0 || v.MinSilence > 0 || v.MinSpeech > 0 {
		params := audio.DefaultVADParams()
		if v.Threshold > 0 {
			params.Threshold = v.Threshold
		}
		if v.MinSilence > 0 {
			params.MinSilence = v.MinSilence
		}
		if v.MinSpeech > 0 {
			params.MinSpeech = v.MinSpeech
		}
		opts = append(opts, whispercpp.WithVAD(params))
	}
	if cfg.Engine.ForceCPU {
		opts = append(opts, whispercpp.WithCUDAProbe(func() bool { return false }))
	}
	return whispercpp.New(cfg.Engine.ModelPath, opts...)
}

// newDebugServer builds the HTTP server exposing Prometheus metrics and
// health probes.
func newDebugServer(cfg *config.Config) *http.Server {
	h := health.New(
		health.StatusFresh(cfg.Daemon.StatusFile(), time.Minute),
		health.InboxWritable(cfg.Daemon.InboxDir()),
		health.ModelFile(cfg.Engine.ModelPath),
	)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mw := observe.Middleware(observe.DefaultMetrics())
	return &http.Server{
		Addr:              cfg.Debug.ListenAddr,
		Handler:           mw(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
