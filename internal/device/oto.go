//go:build !nocgo

package device

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/chime/internal/sound"
)

// oto allows a single context per process, so it is shared by every
// otoDevice and never torn down.
var (
	otoMu      sync.Mutex
	otoCtx     *oto.Context
	otoReady   chan struct{}
	otoRate    int
	otoChans   int
	otoStarted bool
)

func sharedOtoContext(cfg Config) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if !otoStarted {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   cfg.BufferSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create audio context: %w", err)
		}
		otoCtx, otoReady, otoRate, otoChans = ctx, ready, cfg.SampleRate, cfg.Channels
		otoStarted = true
	}

	if otoRate != cfg.SampleRate || otoChans != cfg.Channels {
		return nil, fmt.Errorf("audio context already running at %d Hz/%d ch, requested %d Hz/%d ch",
			otoRate, otoChans, cfg.SampleRate, cfg.Channels)
	}

	select {
	case <-otoReady:
		return otoCtx, nil
	case <-time.After(cfg.ReadyTimeout):
		return nil, fmt.Errorf("audio context initialization timeout after %v", cfg.ReadyTimeout)
	}
}

type otoDevice struct {
	ctx    *oto.Context
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	streams map[*otoStream]struct{}
	closed  bool
}

func newOto(cfg Config, logger *log.Logger) (sound.Device, error) {
	ctx, err := sharedOtoContext(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("Audio output initialized",
		"backend", BackendOto,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_size", cfg.BufferSize)
	return &otoDevice{
		ctx:     ctx,
		cfg:     cfg,
		logger:  logger,
		streams: make(map[*otoStream]struct{}),
	}, nil
}

func (d *otoDevice) Name() string { return string(BackendOto) }

// Open creates an oto player fed by a stream that converts from the
// requested format to the context format.
func (d *otoDevice) Open(sampleRate, channels int) (sound.Stream, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, sound.DeviceError("open", fmt.Errorf("unsupported format %d Hz/%d ch", sampleRate, channels))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, sound.DeviceError("open", errors.New("device is closed"))
	}
	if err := d.ctx.Err(); err != nil {
		return nil, sound.DeviceError("open", err)
	}

	frameBytes := 2 * d.cfg.Channels
	bytesPerSec := d.cfg.SampleRate * frameBytes
	s := &otoStream{
		device:       d,
		conv:         newConverter(sampleRate, channels, d.cfg.SampleRate, d.cfg.Channels),
		bytesPerSec:  bytesPerSec,
		silenceChunk: (d.cfg.SampleRate / 100) * frameBytes,
		highWater:    int(int64(bytesPerSec) * int64(d.cfg.BufferSize) * 4 / int64(time.Second)),
		abortCh:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	s.player = d.ctx.NewPlayer(s)
	s.player.Play()

	d.streams[s] = struct{}{}
	return s, nil
}

func (d *otoDevice) forget(s *otoStream) {
	d.mu.Lock()
	delete(d.streams, s)
	d.mu.Unlock()
}

// Close aborts every open stream. The underlying oto context stays
// alive because oto cannot recreate it.
func (d *otoDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	streams := make([]*otoStream, 0, len(d.streams))
	for s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	for _, s := range streams {
		s.Abort()
		_ = s.Close()
	}
	return nil
}

// otoStream is the io.Reader oto pulls from. Writers append converted
// bytes and block once more than highWater bytes are pending; when
// nothing is pending Read hands out short chunks of silence so the mixer
// goroutine never blocks on us.
type otoStream struct {
	device *otoDevice
	conv   *converter
	player *oto.Player

	bytesPerSec  int
	silenceChunk int
	highWater    int
	scratch      []byte

	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	aborted bool
	closed  bool

	abortOnce sync.Once
	abortCh   chan struct{}
	closeOnce sync.Once
}

// Read implements io.Reader for oto.
func (s *otoStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.EOF
	}
	if len(s.pending) == 0 || s.aborted {
		n := min(len(p), s.silenceChunk)
		clear(p[:n])
		return n, nil
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	if len(s.pending) == 0 {
		s.pending = nil
	}
	s.cond.Broadcast()
	return n, nil
}

func (s *otoStream) Write(frames []float32) error {
	if err := s.player.Err(); err != nil {
		return sound.DeviceError("write", err)
	}

	s.scratch = int16LE(s.scratch, s.conv.convert(frames))

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.aborted && !s.closed && len(s.pending) > 0 && len(s.pending)+len(s.scratch) > s.highWater {
		s.cond.Wait()
	}
	if s.aborted || s.closed {
		return ErrAborted
	}
	s.pending = append(s.pending, s.scratch...)
	return nil
}

func (s *otoStream) Drain() error {
	s.mu.Lock()
	for !s.aborted && !s.closed && len(s.pending) > 0 {
		s.cond.Wait()
	}
	aborted := s.aborted || s.closed
	s.mu.Unlock()
	if aborted {
		return ErrAborted
	}

	// The player still holds up to one device buffer.
	latency := time.Duration(s.player.BufferedSize()) * time.Second / time.Duration(s.bytesPerSec)
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-s.abortCh:
		return ErrAborted
	case <-timer.C:
		return nil
	}
}

func (s *otoStream) Abort() {
	s.abortOnce.Do(func() {
		close(s.abortCh)
		s.mu.Lock()
		s.aborted = true
		s.pending = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		s.player.Pause()
	})
}

func (s *otoStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()
		err = s.player.Close()
		s.device.forget(s)
	})
	return err
}
