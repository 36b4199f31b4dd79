// Package daemon wires the audio front end, the speech engine, and the
// file-based IPC layer into the long-running scribed process.
//
// The Daemon owns the full request lifecycle: Run polls the inbox,
// processes each request through gate → preprocess → transcribe, publishes
// responses and status atomically, and releases the model after the idle
// timeout while staying alive for the next hotkey press.
//
// For testing, inject a scripted engine and a fake-clock coordinator via
// functional options.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"scribed/internal/config"
	"scribed/internal/ipc"
	"scribed/internal/observe"
	"scribed/internal/resilience"
	"scribed/internal/session"
	"scribed/pkg/audio"
	"scribed/pkg/engine"
)

// ErrEmergencyShutdown is returned by [Daemon.Run] when a single request
// identifier exhausted its failure budget and the daemon stopped itself to
// break the crash loop.
var ErrEmergencyShutdown = errors.New("daemon: emergency shutdown after repeated request failures")

// heartbeatInterval is how often the status file is refreshed when nothing
// else changes. Must stay well under the freshness window external
// observers use.
const heartbeatInterval = 10 * time.Second

// Daemon is the scribed process core.
type Daemon struct {
	cfg   *config.Config
	eng   engine.Engine
	gate  audio.Gate
	pre   *audio.Preprocessor
	coord *session.Coordinator

	inbox    *ipc.Inbox
	failures *resilience.FailureTracker
	metrics  *observe.Metrics

	monitorInterval time.Duration
	started         time.Time
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*Daemon)

// WithCoordinator injects a session coordinator instead of creating one
// from the configured timeout. Tests use this to drive the idle clock.
func WithCoordinator(c *session.Coordinator) Option {
	return func(d *Daemon) { d.coord = c }
}

// WithMetrics injects a metrics instance instead of using the package
// default. Tests use this to avoid global meter pollution.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithMonitorInterval overrides how often the idle monitor checks for
// expiry.
func WithMonitorInterval(interval time.Duration) Option {
	return func(d *Daemon) { d.monitorInterval = interval }
}

// WithGate injects a tuned audio gate.
func WithGate(g audio.Gate) Option {
	return func(d *Daemon) { d.gate = g }
}

// WithPreprocessor injects a tuned preprocessor.
func WithPreprocessor(p *audio.Preprocessor) Option {
	return func(d *Daemon) { d.pre = p }
}

// New creates a Daemon around the given engine. The runtime directory and
// inbox are created if missing.
func New(cfg *config.Config, eng engine.Engine, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		cfg:             cfg,
		eng:             eng,
		gate:            audio.NewGate(cfg.Audio.Gate.MinDuration, cfg.Audio.Gate.MinRMS),
		pre:             preprocessorFromConfig(cfg.Audio.Preprocess),
		monitorInterval: monitorIntervalFor(cfg.Daemon.SessionTimeout),
		started:         time.Now(),
	}
	for _, o := range opts {
		o(d)
	}

	if d.coord == nil {
		d.coord = session.NewCoordinator(cfg.Daemon.SessionTimeout)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}

	if err := os.MkdirAll(cfg.Daemon.OutboxDir(), 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create outbox: %w", err)
	}
	inbox, err := ipc.NewInbox(cfg.Daemon.InboxDir())
	if err != nil {
		return nil, err
	}
	d.inbox = inbox
	d.failures = resilience.NewFailureTracker(cfg.Daemon.MaxRequestFailures)

	return d, nil
}

// monitorIntervalFor picks an idle-check cadence that resolves the timeout
// with reasonable granularity without busy-waking for long timeouts.
func monitorIntervalFor(timeout time.Duration) time.Duration {
	const max = 30 * time.Second
	if timeout <= 0 || timeout/4 > max {
		return max
	}
	interval := timeout / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}

func preprocessorFromConfig(cfg config.Preprocess) *audio.Preprocessor {
	p := audio.NewPreprocessor()
	if cfg.HighPassHz > 0 {
		p.HighPassHz = cfg.HighPassHz
	}
	if cfg.SpectralFactor > 0 {
		p.SpectralFactor = cfg.SpectralFactor
	}
	if cfg.NoiseFloorRatio > 0 {
		p.NoiseFloorRatio = cfg.NoiseFloorRatio
	}
	if cfg.Headroom > 0 {
		p.Headroom = cfg.Headroom
	}
	return p
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run executes the daemon loop until ctx is cancelled or an emergency
// shutdown trips. On return the model is unloaded and the status, marker,
// and in-flight session files are removed.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.writeSessionMarker(); err != nil {
		return err
	}
	d.publishStatus(ctx)
	slog.Info("daemon running",
		"inbox", d.inbox.Dir(),
		"outbox", d.cfg.Daemon.OutboxDir(),
		"session_timeout", d.cfg.Daemon.SessionTimeout,
		"model", d.eng.ModelID(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.pollLoop(gctx)
	})
	g.Go(func() error {
		d.coord.RunMonitor(gctx, d.monitorInterval, func() {
			d.releaseIdleModel(gctx)
		})
		return nil
	})

	err := g.Wait()
	d.shutdown(err)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pollLoop scans the inbox on the configured interval and refreshes the
// status heartbeat.
func (d *Daemon) pollLoop(ctx context.Context) error {
	poll := time.NewTicker(d.cfg.Daemon.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			d.publishStatus(ctx)
		case <-poll.C:
			paths, err := d.inbox.Poll()
			if err != nil {
				slog.Error("inbox scan failed", "err", err)
				continue
			}
			for _, path := range paths {
				if err := d.handleRequestFile(ctx, path); err != nil {
					return err
				}
			}
		}
	}
}

// handleRequestFile processes one inbox file end to end. The file is
// consumed whatever the outcome; only an exhausted failure budget aborts
// the loop.
func (d *Daemon) handleRequestFile(ctx context.Context, path string) error {
	req, err := ipc.ReadRequest(path)
	if consumeErr := d.inbox.Consume(path); consumeErr != nil {
		slog.Warn("could not remove request file", "path", path, "err", consumeErr)
	}
	if err != nil {
		return d.handleMalformed(ctx, req, path, err)
	}

	switch req.Type {
	case ipc.TypePing:
		d.handlePing(ctx, req)
		return nil
	case ipc.TypeTranscribe:
		return d.handleTranscribe(ctx, req)
	default:
		return d.handleMalformed(ctx, req, path,
			fmt.Errorf("%w: request %s: unknown type %q", ipc.ErrMalformedRequest, req.ID, req.Type))
	}
}

// handleMalformed logs and, when an identifier was recovered, answers with
// an error response so the client is not left polling until its deadline.
func (d *Daemon) handleMalformed(ctx context.Context, req ipc.Request, path string, cause error) error {
	d.metrics.RecordRequest(ctx, observe.OutcomeMalformed)
	d.coord.Touch()
	if req.ID == "" {
		slog.Warn("dropping malformed request", "path", filepath.Base(path), "err", cause)
		d.publishStatus(ctx)
		return nil
	}

	slog.Warn("rejecting malformed request", "request_id", req.ID, "err", cause)
	d.writeResponse(ctx, ipc.Response{
		ID:            req.ID,
		Results:       []string{},
		Device:        string(d.eng.Device()),
		SessionActive: d.eng.Loaded(),
		Error:         cause.Error(),
	})
	d.publishStatus(ctx)
	if d.failures.RecordFailure(req.ID) {
		return ErrEmergencyShutdown
	}
	return nil
}

// handlePing answers liveness probes without touching the engine.
func (d *Daemon) handlePing(ctx context.Context, req ipc.Request) {
	d.metrics.RecordRequest(ctx, observe.OutcomePong)
	d.coord.Touch()
	snap := d.coord.Snapshot()
	d.writeResponse(ctx, ipc.Response{
		ID:          req.ID,
		Type:        ipc.TypePong,
		Results:     []string{},
		Device:      string(d.eng.Device()),
		ModelLoaded: d.eng.Loaded(),
		Uptime:      snap.Uptime.Seconds(),
	})
	d.publishStatus(ctx)
}

// handleTranscribe runs the full pipeline for one recording.
func (d *Daemon) handleTranscribe(ctx context.Context, req ipc.Request) error {
	ctx, span := observe.StartSpan(ctx, "transcribe.request")
	defer span.End()
	log := observe.Logger(ctx).With("request_id", req.ID)
	start := time.Now()

	d.coord.SetProcessing(true)
	d.publishStatus(ctx)
	defer func() {
		d.coord.SetProcessing(false)
		d.publishStatus(ctx)
	}()

	fail := func(cause error) error {
		log.Error("request failed", "err", cause)
		d.metrics.RecordRequest(ctx, observe.OutcomeError)
		d.writeResponse(ctx, ipc.Response{
			ID:            req.ID,
			Results:       []string{},
			Device:        string(d.eng.Device()),
			SessionActive: d.eng.Loaded(),
			Error:         cause.Error(),
		})
		if d.failures.RecordFailure(req.ID) {
			return ErrEmergencyShutdown
		}
		return nil
	}

	samples, rate, err := audio.DecodeWAVFile(req.AudioFile)
	if err != nil {
		return fail(fmt.Errorf("decode %q: %w", req.AudioFile, err))
	}
	audioSeconds := float64(len(samples)) / float64(rate)
	d.metrics.AudioDuration.Record(ctx, audioSeconds)

	// Cheap rejection before any model work: accidental taps and silent
	// recordings get an immediate empty result.
	if !d.gate.Accepts(samples, rate) {
		log.Info("recording gated out",
			"duration", time.Duration(audioSeconds*float64(time.Second)).Round(time.Millisecond),
			"rms", audio.RMS(samples),
		)
		d.metrics.RecordRequest(ctx, observe.OutcomeGated)
		d.failures.RecordSuccess(req.ID)
		d.writeResponse(ctx, ipc.Response{
			ID:            req.ID,
			Results:       []string{},
			Device:        string(d.eng.Device()),
			SessionActive: d.eng.Loaded(),
		})
		return nil
	}

	preStart := time.Now()
	cleaned := d.pre.Clean(samples, rate)
	d.metrics.PreprocessDuration.Record(ctx, time.Since(preStart).Seconds())
	d.dumpAudio(req.ID, cleaned, rate)

	wasLoaded := d.eng.Loaded()
	result, err := d.eng.Transcribe(ctx, cleaned, rate)
	if err != nil {
		return fail(fmt.Errorf("transcribe: %w", err))
	}
	if !wasLoaded && d.eng.Loaded() {
		d.metrics.RecordEngineLoad(ctx, string(result.Device))
	}

	segments := result.Segments
	if segments == nil {
		segments = []string{}
	}
	outcome := observe.OutcomeOK
	if len(segments) == 0 {
		outcome = observe.OutcomeNoSpeech
	}
	d.metrics.RecordRequest(ctx, outcome)
	d.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	d.failures.RecordSuccess(req.ID)

	d.writeResponse(ctx, ipc.Response{
		ID:            req.ID,
		Results:       segments,
		Device:        string(result.Device),
		SessionActive: d.eng.Loaded(),
	})
	log.Info("request completed",
		"segments", len(segments),
		"device", result.Device,
		"audio_seconds", audioSeconds,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// releaseIdleModel unloads the engine after the idle timeout. The daemon
// keeps running; the next request reloads the model. The eviction is not
// activity: status keeps reporting the last real request's last_activity.
func (d *Daemon) releaseIdleModel(ctx context.Context) {
	if d.eng.Loaded() {
		if err := d.eng.Unload(); err != nil {
			slog.Error("idle unload failed", "err", err)
		} else {
			d.metrics.RecordEngineUnload(ctx, "idle")
			slog.Info("model released after idle timeout", "model", d.eng.ModelID())
		}
	}
	d.publishStatus(ctx)
}

// ─── IPC publishing ──────────────────────────────────────────────────────────

// writeResponse stamps and publishes a response. Publish failures are
// logged, not propagated: the client's poll deadline handles a missing
// response.
func (d *Daemon) writeResponse(ctx context.Context, resp ipc.Response) {
	resp.Timestamp = ipc.Now()
	path := ipc.ResponsePath(d.cfg.Daemon.OutboxDir(), resp.ID)
	if err := ipc.WriteJSONAtomic(path, resp); err != nil {
		observe.Logger(ctx).Error("could not publish response", "request_id", resp.ID, "err", err)
	}
}

// publishStatus writes the externally visible status file.
func (d *Daemon) publishStatus(ctx context.Context) {
	snap := d.coord.Snapshot()
	st := ipc.Status{
		Active:         true,
		ModelLoaded:    d.eng.Loaded(),
		Device:         string(d.eng.Device()),
		ModelSize:      d.cfg.Engine.ModelSize,
		Processing:     snap.Processing,
		LastActivity:   float64(snap.LastActivity.UnixNano()) / float64(time.Second),
		SessionTimeout: int(d.cfg.Daemon.SessionTimeout.Seconds()),
		Timestamp:      ipc.Now(),
		PID:            os.Getpid(),
		Uptime:         snap.Uptime.Seconds(),
	}
	if err := ipc.WriteJSONAtomic(d.cfg.Daemon.StatusFile(), st); err != nil {
		observe.Logger(ctx).Error("could not publish status", "err", err)
	}
}

func (d *Daemon) writeSessionMarker() error {
	marker := ipc.SessionMarker{
		Started: float64(d.started.UnixNano()) / float64(time.Second),
		PID:     os.Getpid(),
		Timeout: int(d.cfg.Daemon.SessionTimeout.Seconds()),
	}
	if err := ipc.WriteJSONAtomic(d.cfg.Daemon.SessionMarkerFile(), marker); err != nil {
		return fmt.Errorf("daemon: write session marker: %w", err)
	}
	return nil
}

// dumpAudio writes the cleaned audio to the debug dump directory when one
// is configured.
func (d *Daemon) dumpAudio(id string, samples []float32, rate int) {
	dir := d.cfg.Debug.DumpAudioDir
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("could not create audio dump dir", "dir", dir, "err", err)
		return
	}
	path := filepath.Join(dir, id+".wav")
	if err := audio.WriteWAVFile(path, samples, rate); err != nil {
		slog.Warn("could not dump cleaned audio", "path", path, "err", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// shutdown releases the model and removes the session files so observers
// see a clean exit rather than a stale session.
func (d *Daemon) shutdown(cause error) {
	reason := "shutdown"
	if errors.Is(cause, ErrEmergencyShutdown) {
		reason = "emergency"
	}

	if d.eng.Loaded() {
		if err := d.eng.Unload(); err != nil {
			slog.Error("unload on shutdown failed", "err", err)
		} else {
			d.metrics.RecordEngineUnload(context.Background(), reason)
		}
	}
	for _, path := range []string{
		d.cfg.Daemon.StatusFile(),
		d.cfg.Daemon.SessionMarkerFile(),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("could not remove session file", "path", path, "err", err)
		}
	}
	slog.Info("daemon stopped", "reason", reason)
}
