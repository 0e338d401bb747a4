package database

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const keepAliveTag = "db-keep-alive"

var errKeepAliveRunning = errors.New("database: keep-alive already running")

type KeepAliveConfig struct {
	Prober   Prober
	Interval time.Duration
	Observer ProbeObserver
	Logger   *zap.Logger
}

// KeepAlive periodically probes the pool so idle connections are not reclaimed by the
// provider. A non-positive interval disables it.
type KeepAlive struct {
	prober   Prober
	interval time.Duration
	observer ProbeObserver
	logger   *zap.Logger

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
}

func NewKeepAlive(cfg KeepAliveConfig) *KeepAlive {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeepAlive{
		prober:   cfg.Prober,
		interval: cfg.Interval,
		observer: cfg.Observer,
		logger:   logger,
	}
}

// Enabled reports whether Start will schedule anything.
func (k *KeepAlive) Enabled() bool {
	return k.interval > 0 && k.prober != nil
}

// Running reports whether probes are currently scheduled.
func (k *KeepAlive) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.scheduler != nil
}

// Start schedules the probe. The first probe fires one interval after Start. The returned
// bool is false when the keep-alive is disabled.
func (k *KeepAlive) Start(ctx context.Context) (bool, error) {
	if !k.Enabled() {
		k.logger.Debug("database keep-alive disabled")
		return false, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.scheduler != nil {
		return false, errKeepAliveRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(k.interval).
		WaitForSchedule().
		SingletonMode().
		Tag(keepAliveTag).
		Do(func() { k.tick(runCtx) })
	if err != nil {
		cancel()
		return false, err
	}
	scheduler.StartAsync()

	k.scheduler = scheduler
	k.cancel = cancel
	k.logger.Debug("database keep-alive scheduled", zap.Duration("interval", k.interval))
	return true, nil
}

// Stop cancels any in-flight probe and unschedules future ones. It is safe to call
// when the keep-alive never started.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.scheduler == nil {
		return
	}
	k.cancel()
	k.scheduler.Stop()
	k.scheduler = nil
	k.cancel = nil
	k.logger.Debug("database keep-alive stopped")
}

func (k *KeepAlive) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	latency, err := k.prober.Probe(ctx)
	if k.observer != nil {
		k.observer.ObserveProbe(probeKindKeepAlive, latency, err)
	}
	if err != nil {
		k.logger.Warn("database keep-alive failed", zap.Error(err))
		return
	}
	k.logger.Debug("database keep-alive ok", zap.Float64("latency_ms", milliseconds(latency)))
}
