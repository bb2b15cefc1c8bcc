package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chime/internal/sound"
)

// Source resolves names to decoded assets without blocking.
// *registry.Registry satisfies it.
type Source interface {
	Get(name string) (*sound.Asset, bool)
}

// Config tunes the dispatcher.
type Config struct {
	// QueueSize bounds sessions waiting for a lane.
	QueueSize int

	// Lanes is the number of resident output workers.
	Lanes int

	// MaxLanes caps the lanes running at once. When every lane is busy,
	// Play starts an extra lane so overlapping sounds start immediately;
	// extra lanes exit after IdleClose without work. Zero means
	// QueueSize.
	MaxLanes int

	// BlockSize is the number of frames per device write.
	BlockSize int

	// StopTimeout bounds how long StopAll waits for lanes before
	// force-terminating sessions.
	StopTimeout time.Duration

	// IdleClose closes a lane's cached stream after this much idle time.
	IdleClose time.Duration

	// EventBuffer is the capacity of the event channel.
	EventBuffer int
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:   16,
		Lanes:       4,
		BlockSize:   2048,
		StopTimeout: 250 * time.Millisecond,
		IdleClose:   30 * time.Second,
		EventBuffer: 256,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.QueueSize <= 0 {
		return errors.New("queue size must be positive")
	}
	if c.Lanes <= 0 {
		return errors.New("lane count must be positive")
	}
	if c.MaxLanes < 0 {
		return errors.New("max lanes must not be negative")
	}
	if c.MaxLanes > 0 && c.MaxLanes < c.Lanes {
		return fmt.Errorf("max lanes %d is below lane count %d", c.MaxLanes, c.Lanes)
	}
	if c.BlockSize <= 0 {
		return errors.New("block size must be positive")
	}
	if c.StopTimeout <= 0 {
		return errors.New("stop timeout must be positive")
	}
	if c.IdleClose <= 0 {
		return errors.New("idle close must be positive")
	}
	if c.EventBuffer <= 0 {
		return errors.New("event buffer must be positive")
	}
	return nil
}

// laneLimit is the effective MaxLanes.
func (c Config) laneLimit() int {
	if c.MaxLanes > 0 {
		return c.MaxLanes
	}
	return max(c.QueueSize, c.Lanes)
}

// Stats tracks dispatcher counters.
type Stats struct {
	Enqueued        int64
	Started         int64
	Finished        int64
	Dropped         int64
	NotFound        int64
	Failed          int64
	Stopped         int64
	Forced          int64
	EventsDiscarded int64
	Active          int
	Lanes           int
	PeakLanes       int
	QueueDepth      int
	PeakQueueDepth  int
}

// StopReport summarizes a StopAll call.
type StopReport struct {
	// Stopped counts sessions that acknowledged the stop in time,
	// including sessions that never left the queue.
	Stopped int

	// Forced counts sessions terminated after the stop timeout.
	Forced int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used by the dispatcher and its observer.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithFallback sets a device used when the primary fails to open or
// write.
func WithFallback(dev sound.Device) Option {
	return func(d *Dispatcher) { d.fallback = dev }
}

// WithEventHook registers fn to receive every event. It runs on the
// observer goroutine, never on the Play caller.
func WithEventHook(fn func(Event)) Option {
	return func(d *Dispatcher) { d.hook = fn }
}

// Dispatcher turns play requests into device output.
type Dispatcher struct {
	cfg      Config
	source   Source
	device   sound.Device
	fallback sound.Device
	logger   *log.Logger
	hook     func(Event)

	queue    chan *session
	observer *observer

	// mu guards active, drained, closed and the lane counts. It is held
	// only for map updates, counter updates and non-blocking sends.
	mu      sync.Mutex
	active  map[SessionID]*session
	drained chan struct{}
	closed  bool

	// Every queued session is owed a waiting lane. idle counts waiting
	// lanes nobody is owed; backlog counts queued sessions no lane was
	// free for, handed to the next lane that finishes.
	lanes     int
	peakLanes int
	nextLane  int
	idle      int
	backlog   int

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	enqueued  atomic.Int64
	started   atomic.Int64
	finished  atomic.Int64
	dropped   atomic.Int64
	notFound  atomic.Int64
	failed    atomic.Int64
	stopped   atomic.Int64
	forced    atomic.Int64
	peakDepth atomic.Int64
}

// New starts a dispatcher with cfg.Lanes workers writing to device.
func New(source Source, device sound.Device, cfg Config, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatcher config: %w", err)
	}
	if source == nil || device == nil {
		return nil, errors.New("dispatcher needs a source and a device")
	}

	d := &Dispatcher{
		cfg:     cfg,
		source:  source,
		device:  device,
		logger:  log.Default(),
		queue:   make(chan *session, cfg.QueueSize),
		active:  make(map[SessionID]*session),
		drained: make(chan struct{}),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	close(d.drained)

	d.observer = newObserver(cfg.EventBuffer, d.logger, d.hook)
	go d.observer.run()

	d.mu.Lock()
	for i := 0; i < cfg.Lanes; i++ {
		d.startLane(false)
	}
	d.idle = cfg.Lanes
	d.mu.Unlock()

	d.logger.Debug("Dispatcher started", "lanes", cfg.Lanes, "max_lanes", cfg.laneLimit(), "queue", cfg.QueueSize, "device", device.Name())
	return d, nil
}

// Play schedules name for playback and returns immediately. It never
// blocks on the device and never interrupts sessions already playing.
func (d *Dispatcher) Play(name string) (SessionID, error) {
	asset, ok := d.source.Get(name)
	if !ok {
		if d.isClosed() {
			return SessionID{}, sound.ClosedError("play")
		}
		d.notFound.Add(1)
		d.observer.emit(Event{Kind: EventNotFound, Name: name})
		return SessionID{}, sound.NotFoundError("play", name)
	}

	s := newSession(asset)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return SessionID{}, sound.ClosedError("play")
	}
	select {
	case d.queue <- s:
		d.track(s)
		d.assignLane()
	default:
		d.mu.Unlock()
		d.dropped.Add(1)
		d.observer.emit(Event{Kind: EventDropped, Name: name})
		return SessionID{}, sound.QueueFullError(name)
	}
	d.mu.Unlock()

	d.enqueued.Add(1)
	d.notePeak(len(d.queue))
	return s.id, nil
}

// startLane launches a lane goroutine. d.mu must be held.
func (d *Dispatcher) startLane(extra bool) {
	id := d.nextLane
	d.nextLane++
	d.lanes++
	d.peakLanes = max(d.peakLanes, d.lanes)
	d.wg.Add(1)
	go d.runLane(id, extra)
}

// assignLane finds a lane for a session just queued: a waiting lane if
// one is free, otherwise a new extra lane while under MaxLanes. At the
// limit the session waits for the next lane to finish. d.mu must be
// held.
func (d *Dispatcher) assignLane() {
	switch {
	case d.idle > 0:
		d.idle--
	case d.lanes < d.cfg.laneLimit():
		d.startLane(true)
	default:
		d.backlog++
	}
}

// laneFree is called by a lane that finished a session and is about to
// wait for the next one.
func (d *Dispatcher) laneFree() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backlog > 0 {
		d.backlog--
		return
	}
	d.idle++
}

// retireLane reports whether an extra lane may exit. Only a lane nobody
// is owed can go.
func (d *Dispatcher) retireLane() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idle == 0 || d.lanes <= d.cfg.Lanes {
		return false
	}
	d.idle--
	d.lanes--
	return true
}

// track adds s to the active set. d.mu must be held.
func (d *Dispatcher) track(s *session) {
	if len(d.active) == 0 {
		d.drained = make(chan struct{})
	}
	d.active[s.id] = s
}

// untrack removes s from the active set.
func (d *Dispatcher) untrack(s *session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[s.id]; !ok {
		return
	}
	delete(d.active, s.id)
	if len(d.active) == 0 {
		close(d.drained)
	}
}

func (d *Dispatcher) notePeak(depth int) {
	for {
		peak := d.peakDepth.Load()
		if int64(depth) <= peak || d.peakDepth.CompareAndSwap(peak, int64(depth)) {
			return
		}
	}
}

// finish completes s once. kind selects the event and counter; err is
// attached to playback errors.
func (d *Dispatcher) finish(s *session, kind EventKind, err error) bool {
	if !s.complete() {
		return false
	}

	switch kind {
	case EventFinished:
		d.finished.Add(1)
	case EventStopped:
		d.stopped.Add(1)
	case EventForcedStop:
		d.forced.Add(1)
	case EventPlaybackError:
		d.failed.Add(1)
	}
	d.observer.emit(Event{Kind: kind, Session: s.id, Name: s.asset.Name(), Err: err})
	d.untrack(s)
	return true
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) snapshot() []*session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*session, 0, len(d.active))
	for _, s := range d.active {
		out = append(out, s)
	}
	return out
}

// StopAll stops every queued and playing session. Lanes get until
// StopTimeout, or the ctx deadline if sooner, to acknowledge; sessions
// still running after that have their streams aborted.
func (d *Dispatcher) StopAll(ctx context.Context) StopReport {
	var report StopReport
	var pending []*session

	for _, s := range d.snapshot() {
		prev, ok := s.requestStop()
		if !ok {
			continue
		}
		if prev == StateQueued {
			// No lane owns it yet; the lane that dequeues it will skip it.
			if d.finish(s, EventStopped, nil) {
				report.Stopped++
			}
			continue
		}
		pending = append(pending, s)
	}
	if len(pending) == 0 {
		return report
	}

	deadline := time.Now().Add(d.cfg.StopTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	expired := false
	for _, s := range pending {
		if !expired {
			select {
			case <-s.done:
				report.Stopped++
				continue
			case <-timer.C:
				expired = true
			case <-ctx.Done():
				expired = true
			}
		}
		s.abort()
		if d.finish(s, EventForcedStop, nil) {
			report.Forced++
		} else {
			report.Stopped++
		}
	}

	if report.Forced > 0 {
		d.logger.Warn("Force-stopped sessions after timeout", "forced", report.Forced, "timeout", d.cfg.StopTimeout)
	}
	return report
}

// Wait blocks until no session is queued or playing.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	drained := d.drained
	d.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) laneCounts() (lanes, peak int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lanes, d.peakLanes
}

// Active returns the number of queued and playing sessions.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Sessions returns a view of the active sessions.
func (d *Dispatcher) Sessions() []SessionInfo {
	sessions := d.snapshot()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info())
	}
	return out
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	lanes, peakLanes := d.laneCounts()
	return Stats{
		Enqueued:        d.enqueued.Load(),
		Started:         d.started.Load(),
		Finished:        d.finished.Load(),
		Dropped:         d.dropped.Load(),
		NotFound:        d.notFound.Load(),
		Failed:          d.failed.Load(),
		Stopped:         d.stopped.Load(),
		Forced:          d.forced.Load(),
		EventsDiscarded: d.observer.discarded.Load(),
		Active:          d.Active(),
		Lanes:           lanes,
		PeakLanes:       peakLanes,
		QueueDepth:      len(d.queue),
		PeakQueueDepth:  int(d.peakDepth.Load()),
	}
}

// Close stops all sessions, waits for lanes to exit and releases their
// streams. Later Play calls fail with sound.ErrClosed.
func (d *Dispatcher) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		report := d.StopAll(ctx)
		close(d.quit)

		exited := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(exited)
		}()
		select {
		case <-exited:
		case <-ctx.Done():
			err = fmt.Errorf("waiting for playback lanes: %w", ctx.Err())
		}

		d.observer.stop()
		d.logger.Debug("Dispatcher closed", "stopped", report.Stopped, "forced", report.Forced)
	})
	return err
}
