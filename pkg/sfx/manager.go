package sfx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"

	"github.com/dgnsrekt/chime/internal/assets"
	"github.com/dgnsrekt/chime/internal/decode"
	"github.com/dgnsrekt/chime/internal/device"
	"github.com/dgnsrekt/chime/internal/playback"
	"github.com/dgnsrekt/chime/internal/registry"
	"github.com/dgnsrekt/chime/internal/sound"
)

// Re-exported so callers outside this module can match and inspect
// results.
type (
	StopReport  = playback.StopReport
	Event       = playback.Event
	EventKind   = playback.EventKind
	SessionID   = playback.SessionID
	SessionInfo = playback.SessionInfo
	Error       = sound.Error
)

const (
	EventStarted       = playback.EventStarted
	EventFinished      = playback.EventFinished
	EventDropped       = playback.EventDropped
	EventNotFound      = playback.EventNotFound
	EventPlaybackError = playback.EventPlaybackError
	EventStopped       = playback.EventStopped
	EventForcedStop    = playback.EventForcedStop
)

var (
	ErrNotFound    = sound.ErrNotFound
	ErrQueueFull   = sound.ErrQueueFull
	ErrClosed      = sound.ErrClosed
	ErrInvalidName = sound.ErrInvalidName
	ErrDecode      = sound.ErrDecode
	ErrIO          = sound.ErrIO
	ErrDevice      = sound.ErrDevice
)

// AudioData is a caller-owned copy of a decoded sound.
type AudioData struct {
	// Samples are interleaved float32 values in [-1, 1].
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames.
func (a AudioData) Frames() int {
	if a.Channels <= 0 {
		return 0
	}
	return len(a.Samples) / a.Channels
}

// Duration returns the playback length.
func (a AudioData) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(a.Frames()) * time.Second / time.Duration(a.SampleRate)
}

// SoundInfo describes a registered sound.
type SoundInfo struct {
	Name       string
	Source     string
	SampleRate int
	Channels   int
	Frames     int
	Duration   time.Duration
	SizeBytes  int
	LoadedAt   time.Time
}

// Stats combines dispatcher counters with registry totals.
type Stats struct {
	playback.Stats
	Sounds      int
	MemoryBytes int
	Device      string
}

// Option configures a Manager beyond Config.
type Option func(*options)

type options struct {
	logger *log.Logger
	hook   func(Event)
	device sound.Device
}

// WithLogger sets the logger for the manager and its components.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEventHook receives every playback event on a background goroutine.
func WithEventHook(fn func(Event)) Option {
	return func(o *options) { o.hook = fn }
}

// WithDevice replaces the configured output backend. The manager takes
// ownership and closes it.
func WithDevice(dev sound.Device) Option {
	return func(o *options) { o.device = dev }
}

// Manager owns the sound registry, the output device and the dispatcher.
type Manager struct {
	cfg    Config
	logger *log.Logger

	registry   *registry.Registry
	device     sound.Device
	fallback   sound.Device
	dispatcher *playback.Dispatcher

	preloadMu     sync.Mutex
	preloadErrors map[string]error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New builds a manager and preloads its sound table. Preload failures
// are logged and kept in PreloadErrors; they do not fail New.
func New(ctx context.Context, cfg Config, opts ...Option) (*Manager, error) {
	o := options{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sfx config: %w", err)
	}

	codec := decode.New(cfg.ForceStereo)
	if cfg.MaxSourceBytes > 0 {
		codec.MaxSourceBytes = cfg.MaxSourceBytes
	}

	m := &Manager{
		cfg:           cfg,
		logger:        o.logger,
		registry:      registry.New(codec, registry.WithLogger(o.logger)),
		preloadErrors: make(map[string]error),
	}

	m.device = o.device
	if m.device == nil {
		dev, err := device.New(cfg.deviceConfig(), o.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio output: %w", err)
		}
		m.device = dev
	}

	if fbCfg, ok := cfg.fallbackConfig(); ok {
		fb, err := device.New(fbCfg, o.logger)
		if err != nil {
			o.logger.Warn("Fallback audio device unavailable", "backend", fbCfg.Backend, "error", err)
		} else {
			m.fallback = fb
		}
	}

	if cfg.Warmup {
		m.warmup()
	}

	pbOpts := []playback.Option{playback.WithLogger(o.logger)}
	if m.fallback != nil {
		pbOpts = append(pbOpts, playback.WithFallback(m.fallback))
	}
	if o.hook != nil {
		pbOpts = append(pbOpts, playback.WithEventHook(o.hook))
	}
	disp, err := playback.New(m.registry, m.device, cfg.playbackConfig(), pbOpts...)
	if err != nil {
		m.closeDevices()
		return nil, err
	}
	m.dispatcher = disp

	m.preload(ctx)
	return m, nil
}

// warmup pushes 10ms of silence through the device so the first real
// sound does not pay the start-up cost.
func (m *Manager) warmup() {
	start := time.Now()
	frames := m.cfg.SampleRate / 100
	if err := device.Warmup(m.device, m.cfg.SampleRate, m.cfg.Channels, frames); err != nil {
		m.logger.Warn("Audio warm-up failed", "device", m.device.Name(), "error", err)
		return
	}
	m.logger.Debug("Audio warm-up complete", "device", m.device.Name(), "took", time.Since(start))
}

// SoundTable resolves the name to file table from the bundled set, the
// manifest in SoundsDir and Config.Sounds, in that order of precedence.
func (c Config) SoundTable() (map[string]string, error) {
	table := make(map[string]string)
	if !c.NoDefaults {
		maps.Copy(table, assets.DefaultSet())
	}

	var manifestErr error
	if c.SoundsDir != "" {
		dir, err := homedir.Expand(c.SoundsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand sounds dir: %w", err)
		}
		manifest, err := LoadManifest(filepath.Join(dir, ManifestName))
		switch {
		case err == nil:
			maps.Copy(table, manifest.Sounds)
		case !errors.Is(err, fs.ErrNotExist):
			manifestErr = err
		}
	}

	maps.Copy(table, c.Sounds)
	return table, manifestErr
}

func (m *Manager) preload(ctx context.Context) {
	table, err := m.cfg.SoundTable()
	if err != nil {
		m.logger.Warn("Ignoring sound manifest", "error", err)
		m.recordPreloadError(ManifestName, err)
	}

	defaults := assets.DefaultSet()
	for _, name := range slices.Sorted(maps.Keys(table)) {
		file := table[name]
		err := m.loadEntry(ctx, name, file, defaults[name] == file)
		if err == nil {
			continue
		}
		m.recordPreloadError(name, err)
		if errors.Is(err, sound.ErrIO) {
			m.logger.Warn("Sound file missing, skipping", "sound", name, "file", file, "error", err)
		} else {
			m.logger.Error("Failed to preload sound", "sound", name, "file", file, "error", err)
		}
	}

	m.logger.Debug("Preloaded sounds", "count", m.registry.Len(), "failed", len(m.PreloadErrors()))
}

// loadEntry loads one table entry. Bundled entries come from the
// embedded set unless SoundsDir holds a file of the same name.
func (m *Manager) loadEntry(ctx context.Context, name, file string, bundled bool) error {
	path, err := homedir.Expand(file)
	if err != nil {
		return sound.IOError(name, err)
	}
	if !filepath.IsAbs(path) && m.cfg.SoundsDir != "" {
		dir, err := homedir.Expand(m.cfg.SoundsDir)
		if err != nil {
			return sound.IOError(name, err)
		}
		path = filepath.Join(dir, path)
	}

	if bundled {
		if m.cfg.SoundsDir != "" {
			if _, err := os.Stat(path); err == nil {
				return m.registry.Load(ctx, name, path)
			}
		}
		return m.registry.LoadFS(ctx, name, assets.FS(), file)
	}
	return m.registry.Load(ctx, name, path)
}

func (m *Manager) recordPreloadError(name string, err error) {
	m.preloadMu.Lock()
	defer m.preloadMu.Unlock()
	m.preloadErrors[name] = err
}

// PreloadErrors returns the failures from building the sound table,
// keyed by sound name.
func (m *Manager) PreloadErrors() map[string]error {
	m.preloadMu.Lock()
	defer m.preloadMu.Unlock()
	return maps.Clone(m.preloadErrors)
}

// PlaySound schedules a registered sound and returns immediately. It
// reports false when the sound is unknown, the queue is full or the
// manager is closed; the reason is logged, never returned.
func (m *Manager) PlaySound(name string) bool {
	if m.closed.Load() {
		return false
	}
	_, err := m.dispatcher.Play(name)
	return err == nil
}

// Play is PlaySound for callers that want the session ID or the reason
// a request was not scheduled.
func (m *Manager) Play(name string) (SessionID, error) {
	if m.closed.Load() {
		return SessionID{}, sound.ClosedError("play")
	}
	return m.dispatcher.Play(name)
}

// GetAudioData returns a copy of a sound's decoded samples. Mutating the
// result does not affect later calls or playback.
func (m *Manager) GetAudioData(name string) (AudioData, bool) {
	asset, ok := m.registry.Get(name)
	if !ok {
		return AudioData{}, false
	}
	return AudioData{
		Samples:    asset.Samples(),
		SampleRate: asset.SampleRate(),
		Channels:   asset.Channels(),
	}, true
}

// Info describes a registered sound without copying its samples.
func (m *Manager) Info(name string) (SoundInfo, bool) {
	asset, ok := m.registry.Get(name)
	if !ok {
		return SoundInfo{}, false
	}
	return infoOf(asset), true
}

// Sounds describes every registered sound, sorted by name.
func (m *Manager) Sounds() []SoundInfo {
	all := m.registry.Assets()
	out := make([]SoundInfo, len(all))
	for i, a := range all {
		out[i] = infoOf(a)
	}
	return out
}

func infoOf(a *sound.Asset) SoundInfo {
	return SoundInfo{
		Name:       a.Name(),
		Source:     a.Source(),
		SampleRate: a.SampleRate(),
		Channels:   a.Channels(),
		Frames:     a.Frames(),
		Duration:   a.Duration(),
		SizeBytes:  a.SizeBytes(),
		LoadedAt:   a.LoadedAt(),
	}
}

// AddSound decodes path and registers it as name, replacing any sound
// of that name. On failure the previous entry is kept.
func (m *Manager) AddSound(ctx context.Context, name, path string) error {
	if m.closed.Load() {
		return sound.ClosedError("add")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return sound.IOError(name, err)
	}
	return m.registry.Load(ctx, name, expanded)
}

// AddSoundBytes registers an in-memory source. hint is a file name or
// extension used to pick the decoder.
func (m *Manager) AddSoundBytes(ctx context.Context, name, hint string, data []byte) error {
	if m.closed.Load() {
		return sound.ClosedError("add")
	}
	return m.registry.LoadBytes(ctx, name, hint, data)
}

// RemoveSound unregisters name. Sessions already playing it finish.
func (m *Manager) RemoveSound(name string) bool {
	return m.registry.Remove(name)
}

// GetAvailableSounds returns the registered names, sorted.
func (m *Manager) GetAvailableSounds() []string {
	return m.registry.Names()
}

// StopAllSounds stops every queued and playing sound, force-terminating
// those that do not stop within the configured timeout.
func (m *Manager) StopAllSounds() StopReport {
	return m.dispatcher.StopAll(context.Background())
}

// Wait blocks until nothing is queued or playing.
func (m *Manager) Wait(ctx context.Context) error {
	return m.dispatcher.Wait(ctx)
}

// Sessions lists the queued and playing sounds.
func (m *Manager) Sessions() []SessionInfo {
	return m.dispatcher.Sessions()
}

// Stats returns playback counters and registry totals.
func (m *Manager) Stats() Stats {
	mem := 0
	for _, a := range m.registry.Assets() {
		mem += a.SizeBytes()
	}
	return Stats{
		Stats:       m.dispatcher.Stats(),
		Sounds:      m.registry.Len(),
		MemoryBytes: mem,
		Device:      m.device.Name(),
	}
}

// DeviceName identifies the output backend in use.
func (m *Manager) DeviceName() string {
	return m.device.Name()
}

// Close stops playback, releases the device and drops every cached
// sound. It is safe to call more than once.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		var errs []error
		if err := m.dispatcher.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, m.closeDevices())
		m.registry.Clear()
		m.closeErr = errors.Join(errs...)
		m.logger.Debug("Sound manager closed")
	})
	return m.closeErr
}

func (m *Manager) closeDevices() error {
	var errs []error
	if m.fallback != nil {
		if err := m.fallback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing fallback device: %w", err))
		}
	}
	if err := m.device.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing audio device: %w", err))
	}
	return errors.Join(errs...)
}
