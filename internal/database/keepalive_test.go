package database

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingProber struct {
	calls atomic.Int64
	err   error
}

func (p *countingProber) Probe(context.Context) (time.Duration, error) {
	p.calls.Add(1)
	return time.Millisecond, p.err
}

type probeTally struct {
	keepAlive atomic.Int64
	failures  atomic.Int64
}

func (t *probeTally) ObserveProbe(kind string, _ time.Duration, err error) {
	if kind == probeKindKeepAlive {
		t.keepAlive.Add(1)
	}
	if err != nil {
		t.failures.Add(1)
	}
}

func TestKeepAliveDisabledForNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		prober := &countingProber{}
		keepAlive := NewKeepAlive(KeepAliveConfig{Prober: prober, Interval: interval})

		started, err := keepAlive.Start(context.Background())
		require.NoError(t, err)
		assert.False(t, started)
		assert.False(t, keepAlive.Running())

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int64(0), prober.calls.Load())
		keepAlive.Stop()
	}
}

func TestKeepAliveProbesAtInterval(t *testing.T) {
	prober := &countingProber{}
	tally := &probeTally{}
	keepAlive := NewKeepAlive(KeepAliveConfig{
		Prober:   prober,
		Interval: 25 * time.Millisecond,
		Observer: tally,
		Logger:   zap.NewNop(),
	})

	started, err := keepAlive.Start(context.Background())
	require.NoError(t, err)
	require.True(t, started)
	defer keepAlive.Stop()

	assert.Eventually(t, func() bool {
		return prober.calls.Load() >= 3
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, tally.keepAlive.Load(), int64(3))
	assert.Equal(t, int64(0), tally.failures.Load())
}

func TestKeepAliveRejectsSecondStart(t *testing.T) {
	keepAlive := NewKeepAlive(KeepAliveConfig{Prober: &countingProber{}, Interval: time.Hour})

	started, err := keepAlive.Start(context.Background())
	require.NoError(t, err)
	require.True(t, started)
	defer keepAlive.Stop()

	_, err = keepAlive.Start(context.Background())
	assert.ErrorIs(t, err, errKeepAliveRunning)
}

func TestKeepAliveLogsFailuresAndKeepsRunning(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prober := &countingProber{err: errors.New("connection refused")}
	keepAlive := NewKeepAlive(KeepAliveConfig{
		Prober:   prober,
		Interval: 25 * time.Millisecond,
		Logger:   zap.New(core),
	})

	_, err := keepAlive.Start(context.Background())
	require.NoError(t, err)
	defer keepAlive.Stop()

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("database keep-alive failed").Len() >= 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, keepAlive.Running())
	for _, entry := range logs.FilterMessage("database keep-alive failed").All() {
		assert.Equal(t, zapcore.WarnLevel, entry.Level)
	}
}

func TestKeepAliveStopHaltsProbes(t *testing.T) {
	prober := &countingProber{}
	keepAlive := NewKeepAlive(KeepAliveConfig{Prober: prober, Interval: 20 * time.Millisecond})

	_, err := keepAlive.Start(context.Background())
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return prober.calls.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond)

	keepAlive.Stop()
	assert.False(t, keepAlive.Running())
	// allow an in-flight tick to settle
	time.Sleep(30 * time.Millisecond)
	stopped := prober.calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, stopped, prober.calls.Load())
}
