package playback

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/chime/internal/device"
	"github.com/dgnsrekt/chime/internal/sound"
)

type assetMap map[string]*sound.Asset

func (m assetMap) Get(name string) (*sound.Asset, bool) {
	a, ok := m[name]
	return a, ok
}

func newAsset(t testing.TB, name string, rate, channels, frames int) *sound.Asset {
	t.Helper()
	a, err := sound.NewAsset(name, "test", &sound.PCM{
		Samples:    make([]float32, frames*channels),
		SampleRate: rate,
		Channels:   channels,
	})
	if err != nil {
		t.Fatalf("NewAsset failed: %v", err)
	}
	return a
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func newTestDispatcher(t *testing.T, src Source, dev sound.Device, modify func(*Config), opts ...Option) *Dispatcher {
	t.Helper()
	cfg := DefaultConfig()
	if modify != nil {
		modify(&cfg)
	}
	d, err := New(src, dev, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func waitPlaying(t *testing.T, d *Dispatcher, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		playing := 0
		for _, s := range d.Sessions() {
			if s.State == StatePlaying {
				playing++
			}
		}
		return playing >= n
	}, 2*time.Second, time.Millisecond)
}

func waitIdle(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, false},
		{"zero lanes", func(c *Config) { c.Lanes = 0 }, false},
		{"negative max lanes", func(c *Config) { c.MaxLanes = -1 }, false},
		{"max lanes below lanes", func(c *Config) { c.Lanes = 4; c.MaxLanes = 2 }, false},
		{"max lanes equal to lanes", func(c *Config) { c.Lanes = 4; c.MaxLanes = 4 }, true},
		{"zero block", func(c *Config) { c.BlockSize = 0 }, false},
		{"zero stop timeout", func(c *Config) { c.StopTimeout = 0 }, false},
		{"zero idle close", func(c *Config) { c.IdleClose = 0 }, false},
		{"zero event buffer", func(c *Config) { c.EventBuffer = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestPlay_Completes(t *testing.T) {
	mock := device.NewMock(device.MockConfig{})
	events := &eventLog{}
	src := assetMap{"ding": newAsset(t, "ding", 22050, 2, 5000)}
	d := newTestDispatcher(t, src, mock, nil, WithEventHook(events.add))

	id, err := d.Play("ding")
	require.NoError(t, err)
	assert.NotEqual(t, SessionID{}, id)

	waitIdle(t, d)
	assert.Equal(t, 5000, mock.FramesWritten())

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Enqueued)
	assert.Equal(t, int64(1), stats.Started)
	assert.Equal(t, int64(1), stats.Finished)
	assert.Equal(t, 0, stats.Active)

	require.Eventually(t, func() bool { return events.count(EventFinished) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []EventKind{EventStarted, EventFinished}, events.kinds())
}

func TestPlay_BlockSize(t *testing.T) {
	mock := device.NewMock(device.MockConfig{})
	src := assetMap{"ding": newAsset(t, "ding", 8000, 1, 1000)}
	d := newTestDispatcher(t, src, mock, func(c *Config) { c.BlockSize = 300 })

	_, err := d.Play("ding")
	require.NoError(t, err)
	waitIdle(t, d)

	var frames []int
	for _, w := range mock.Writes() {
		frames = append(frames, w.Frames)
	}
	assert.Equal(t, []int{300, 300, 300, 100}, frames)
}

func TestPlay_UnknownNameDoesNotDisturbPlayback(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Pace: 1})
	events := &eventLog{}
	src := assetMap{"long": newAsset(t, "long", 8000, 1, 1600)}
	d := newTestDispatcher(t, src, mock, func(c *Config) { c.BlockSize = 200 }, WithEventHook(events.add))

	_, err := d.Play("long")
	require.NoError(t, err)
	waitPlaying(t, d, 1)

	for i := 0; i < 10; i++ {
		_, err := d.Play("nope")
		require.ErrorIs(t, err, sound.ErrNotFound)
		assert.Equal(t, sound.ErrorCodeNotFound, sound.CodeOf(err))
	}

	waitIdle(t, d)
	assert.Equal(t, 1600, mock.FramesWritten())

	stats := d.Stats()
	assert.Equal(t, int64(10), stats.NotFound)
	assert.Equal(t, int64(1), stats.Finished)
	assert.Zero(t, stats.Stopped)
	require.Eventually(t, func() bool { return events.count(EventNotFound) == 10 }, time.Second, time.Millisecond)
}

func TestPlay_NonInterruption(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Pace: 1})
	events := &eventLog{}
	src := assetMap{
		"a": newAsset(t, "a", 8000, 1, 800),
		"b": newAsset(t, "b", 8000, 2, 600),
	}
	d := newTestDispatcher(t, src, mock, func(c *Config) { c.BlockSize = 100 }, WithEventHook(events.add))

	_, err := d.Play("a")
	require.NoError(t, err)
	_, err = d.Play("b")
	require.NoError(t, err)

	waitIdle(t, d)

	assert.Equal(t, 1400, mock.FramesWritten(), "both sounds must be written in full")
	assert.Equal(t, int64(2), d.Stats().Finished)
	assert.Zero(t, d.Stats().Stopped)
}

func TestPlay_SameNameOverlaps(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Pace: 1})
	src := assetMap{"tick": newAsset(t, "tick", 8000, 1, 400)}
	d := newTestDispatcher(t, src, mock, func(c *Config) { c.BlockSize = 100 })

	first, err := d.Play("tick")
	require.NoError(t, err)
	second, err := d.Play("tick")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	waitIdle(t, d)
	assert.Equal(t, 800, mock.FramesWritten())
	assert.Equal(t, int64(2), d.Stats().Finished)
}

func TestPlay_OverlapBeyondLanesStartsImmediately(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Pace: 1})
	src := assetMap{"long": newAsset(t, "long", 8000, 1, 8000)}
	d := newTestDispatcher(t, src, mock, func(c *Config) {
		c.Lanes = 2
		c.QueueSize = 8
		c.BlockSize = 200
	})

	const n = 5
	for i := 0; i < n; i++ {
		_, err := d.Play("long")
		require.NoError(t, err)
	}

	// Each sound is one second long, so all five must overlap.
	waitPlaying(t, d, n)
	stats := d.Stats()
	if stats.Lanes != n {
		t.Errorf("Expected %d lanes, got %d", n, stats.Lanes)
	}
	if stats.PeakLanes != n {
		t.Errorf("Expected peak of %d lanes, got %d", n, stats.PeakLanes)
	}

	report := d.StopAll(context.Background())
	assert.Equal(t, StopReport{Stopped: n}, report)
}

func TestPlay_MaxLanesBoundsConcurrency(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Pace: 1})
	src := assetMap{"long": newAsset(t, "long", 8000, 1, 8000)}
	d := newTestDispatcher(t, src, mock, func(c *Config) {
		c.Lanes = 1
		c.MaxLanes = 2
		c.QueueSize = 4
		c.BlockSize = 200
	})

	for i := 0; i < 3; i++ {
		_, err := d.Play("long")
		require.NoError(t, err)
	}
	waitPlaying(t, d, 2)
	time.Sleep(50 * time.Millisecond)

	states := map[State]int{}
	for _, s := range d.Sessions() {
		states[s.State]++
	}
	if states[StatePlaying] != 2 || states[StateQueued] != 1 {
		t.Errorf("Expected 2 playing and 1 queued, got %v", states)
	}
	if lanes := d.Stats().Lanes; lanes != 2 {
		t.Errorf("Expected 2 lanes, got %d", lanes)
	}

	report := d.StopAll(context.Background())
	assert.Equal(t, StopReport{Stopped: 3}, report)
}

func TestLane_ExtraLanesRetireWhenIdle(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Pace: 1})
	src := assetMap{"tick": newAsset(t, "tick", 8000, 1, 400)}
	d := newTestDispatcher(t, src, mock, func(c *Config) {
		c.Lanes = 1
		c.BlockSize = 100
		c.IdleClose = 20 * time.Millisecond
	})

	for i := 0; i < 3; i++ {
		_, err := d.Play("tick")
		require.NoError(t, err)
	}
	waitIdle(t, d)
	assert.Equal(t, 3, d.Stats().PeakLanes)

	require.Eventually(t, func() bool { return d.Stats().Lanes == 1 }, time.Second, 5*time.Millisecond)

	// The resident lane still serves.
	_, err := d.Play("tick")
	require.NoError(t, err)
	waitIdle(t, d)
	assert.Equal(t, 1600, mock.FramesWritten())
	assert.Equal(t, int64(4), d.Stats().Finished)
}

func TestPlay_DropsNewestWhenFull(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Pace: 1})
	events := &eventLog{}
	src := assetMap{
		"long":  newAsset(t, "long", 8000, 1, 2400),
		"short": newAsset(t, "short", 8000, 1, 80),
	}
	d := newTestDispatcher(t, src, mock, func(c *Config) {
		c.Lanes = 1
		c.MaxLanes = 1
		c.QueueSize = 2
		c.BlockSize = 400
	}, WithEventHook(events.add))

	_, err := d.Play("long")
	require.NoError(t, err)
	waitPlaying(t, d, 1)

	_, err = d.Play("short")
	require.NoError(t, err)
	_, err = d.Play("short")
	require.NoError(t, err)

	_, err = d.Play("short")
	require.ErrorIs(t, err, sound.ErrQueueFull)

	waitIdle(t, d)

	stats := d.Stats()
	assert.Equal(t, int64(3), stats.Finished, "queued sessions must still play")
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, 2, stats.PeakQueueDepth)
	assert.Equal(t, 2400+80+80, mock.FramesWritten())
	require.Eventually(t, func() bool { return events.count(EventDropped) == 1 }, time.Second, time.Millisecond)
}

func TestPlay_LatencyUnderLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	mock := device.NewMock(device.MockConfig{})
	src := assetMap{"ding": newAsset(t, "ding", 44100, 2, 441)}
	d := newTestDispatcher(t, src, mock, func(c *Config) {
		c.QueueSize = 1024
		c.MaxLanes = 16
	})

	stop := make(chan struct{})
	var burners sync.WaitGroup
	for i := 0; i < runtime.GOMAXPROCS(0); i++ {
		burners.Add(1)
		go func() {
			defer burners.Done()
			x := 0
			for {
				select {
				case <-stop:
					return
				default:
					for j := 0; j < 10000; j++ {
						x += j * j
					}
				}
			}
		}()
	}
	defer func() {
		close(stop)
		burners.Wait()
	}()

	const calls = 500
	latencies := make([]time.Duration, 0, calls)
	for i := 0; i < calls; i++ {
		start := time.Now()
		_, err := d.Play("ding")
		latencies = append(latencies, time.Since(start))
		if err != nil && !errors.Is(err, sound.ErrQueueFull) {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	slices.Sort(latencies)
	median := latencies[len(latencies)/2]
	if median > time.Millisecond {
		t.Errorf("Median Play latency %v exceeds 1ms", median)
	}
	if worst := latencies[len(latencies)-1]; worst > 50*time.Millisecond {
		t.Errorf("Worst Play latency %v exceeds 50ms", worst)
	}
}

func TestStopAll_NoWritesAfterStop(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Pace: 1})
	src := assetMap{"long": newAsset(t, "long", 8000, 1, 16000)}
	d := newTestDispatcher(t, src, mock, func(c *Config) { c.BlockSize = 256 })

	_, err := d.Play("long")
	require.NoError(t, err)
	_, err = d.Play("long")
	require.NoError(t, err)
	waitPlaying(t, d, 2)

	report := d.StopAll(context.Background())
	assert.Equal(t, 2, report.Stopped)
	assert.Zero(t, report.Forced)
	assert.Zero(t, d.Active())

	writes := len(mock.Writes())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, writes, len(mock.Writes()), "device written after StopAll returned")
	assert.Less(t, mock.FramesWritten(), 32000)
	assert.Equal(t, int64(2), d.Stats().Stopped)
}

func TestStopAll_StopsQueued(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Pace: 1})
	src := assetMap{"long": newAsset(t, "long", 8000, 1, 8000)}
	d := newTestDispatcher(t, src, mock, func(c *Config) {
		c.Lanes = 1
		c.MaxLanes = 1
		c.BlockSize = 200
	})

	for i := 0; i < 4; i++ {
		_, err := d.Play("long")
		require.NoError(t, err)
	}
	waitPlaying(t, d, 1)

	report := d.StopAll(context.Background())
	assert.Equal(t, StopReport{Stopped: 4}, report)
	assert.Zero(t, d.Active())

	// The lane skips the stopped sessions left in the queue.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), d.Stats().Started)
}

func TestStopAll_ForcesHungLane(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Hang: true})
	events := &eventLog{}
	src := assetMap{"stuck": newAsset(t, "stuck", 8000, 1, 800)}
	d := newTestDispatcher(t, src, mock, func(c *Config) {
		c.Lanes = 1
		c.StopTimeout = 50 * time.Millisecond
	}, WithEventHook(events.add))

	_, err := d.Play("stuck")
	require.NoError(t, err)
	waitPlaying(t, d, 1)

	start := time.Now()
	report := d.StopAll(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, StopReport{Forced: 1}, report)
	assert.Less(t, elapsed, time.Second)
	assert.Zero(t, d.Active())
	assert.Equal(t, int64(1), d.Stats().Forced)
	require.Eventually(t, func() bool { return events.count(EventForcedStop) == 1 }, time.Second, time.Millisecond)

	// The lane recovers once the aborted write returns.
	mock.SetHang(false)
	_, err = d.Play("stuck")
	require.NoError(t, err)
	waitIdle(t, d)
	assert.Equal(t, 800, mock.FramesWritten())
}

func TestStopAll_RespectsContextDeadline(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Hang: true})
	src := assetMap{"stuck": newAsset(t, "stuck", 8000, 1, 800)}
	d := newTestDispatcher(t, src, mock, func(c *Config) { c.StopTimeout = time.Minute })

	_, err := d.Play("stuck")
	require.NoError(t, err)
	waitPlaying(t, d, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	report := d.StopAll(ctx)
	assert.Equal(t, 1, report.Forced)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPlay_DeviceFailure(t *testing.T) {
	mock := device.NewMock(device.MockConfig{FailOpen: 1})
	events := &eventLog{}
	src := assetMap{"ding": newAsset(t, "ding", 8000, 1, 100)}
	d := newTestDispatcher(t, src, mock, func(c *Config) { c.Lanes = 1 }, WithEventHook(events.add))

	_, err := d.Play("ding")
	require.NoError(t, err, "device failures are reported asynchronously")
	waitIdle(t, d)
	assert.Equal(t, int64(1), d.Stats().Failed)

	require.Eventually(t, func() bool { return events.count(EventPlaybackError) == 1 }, time.Second, time.Millisecond)
	events.mu.Lock()
	var failure error
	for _, ev := range events.events {
		if ev.Kind == EventPlaybackError {
			failure = ev.Err
		}
	}
	events.mu.Unlock()
	assert.ErrorIs(t, failure, sound.ErrDevice)

	_, err = d.Play("ding")
	require.NoError(t, err)
	waitIdle(t, d)
	assert.Equal(t, int64(1), d.Stats().Finished)
	assert.Equal(t, 100, mock.FramesWritten())
}

func TestPlay_FallbackDevice(t *testing.T) {
	primary := device.NewMock(device.MockConfig{FailWrites: true})
	fallback := device.NewMock(device.MockConfig{})
	src := assetMap{"ding": newAsset(t, "ding", 8000, 1, 500)}
	d := newTestDispatcher(t, src, primary, func(c *Config) { c.Lanes = 1 }, WithFallback(fallback))

	_, err := d.Play("ding")
	require.NoError(t, err)
	waitIdle(t, d)

	assert.Equal(t, 500, fallback.FramesWritten())
	assert.Equal(t, int64(1), d.Stats().Finished)
	assert.Zero(t, d.Stats().Failed)
	assert.Zero(t, primary.ActiveStreams(), "failed primary stream must be closed")
}

func TestLane_ReusesStream(t *testing.T) {
	mock := device.NewMock(device.MockConfig{})
	src := assetMap{
		"a": newAsset(t, "a", 22050, 2, 100),
		"b": newAsset(t, "b", 22050, 2, 100),
		"c": newAsset(t, "c", 44100, 1, 100),
	}
	d := newTestDispatcher(t, src, mock, func(c *Config) { c.Lanes = 1 })

	for _, name := range []string{"a", "b", "a"} {
		_, err := d.Play(name)
		require.NoError(t, err)
		waitIdle(t, d)
	}
	assert.Equal(t, 1, mock.Opens())

	_, err := d.Play("c")
	require.NoError(t, err)
	waitIdle(t, d)
	assert.Equal(t, 2, mock.Opens(), "format change must reopen")
	assert.Equal(t, 1, mock.ActiveStreams())
}

func TestLane_ClosesIdleStream(t *testing.T) {
	mock := device.NewMock(device.MockConfig{})
	src := assetMap{"a": newAsset(t, "a", 8000, 1, 10)}
	d := newTestDispatcher(t, src, mock, func(c *Config) {
		c.Lanes = 1
		c.IdleClose = 20 * time.Millisecond
	})

	_, err := d.Play("a")
	require.NoError(t, err)
	waitIdle(t, d)

	require.Eventually(t, func() bool { return mock.ActiveStreams() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClose(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Pace: 1})
	src := assetMap{"long": newAsset(t, "long", 8000, 1, 8000)}
	cfg := DefaultConfig()
	cfg.BlockSize = 200
	d, err := New(src, mock, cfg)
	require.NoError(t, err)

	_, err = d.Play("long")
	require.NoError(t, err)
	waitPlaying(t, d, 1)

	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))
	assert.Zero(t, d.Active())
	assert.Zero(t, mock.ActiveStreams())

	_, err = d.Play("long")
	assert.ErrorIs(t, err, sound.ErrClosed)
	_, err = d.Play("missing")
	assert.ErrorIs(t, err, sound.ErrClosed)
}

func TestWait_ContextCancel(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Hang: true})
	src := assetMap{"stuck": newAsset(t, "stuck", 8000, 1, 10)}
	d := newTestDispatcher(t, src, mock, func(c *Config) { c.StopTimeout = 10 * time.Millisecond })

	_, err := d.Play("stuck")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}

func TestObserver_DiscardsWhenFull(t *testing.T) {
	var seen atomic.Int64
	block := make(chan struct{})
	o := newObserver(2, nopLogger(), func(Event) {
		seen.Add(1)
		<-block
	})
	go o.run()

	for i := 0; i < 10; i++ {
		o.emit(Event{Kind: EventDropped, Name: "x"})
	}
	close(block)
	o.stop()

	total := seen.Load() + o.discarded.Load()
	assert.Equal(t, int64(10), total)
	assert.Positive(t, o.discarded.Load())
}
