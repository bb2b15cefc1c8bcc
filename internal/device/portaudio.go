//go:build portaudio

package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"

	"github.com/dgnsrekt/chime/internal/sound"
)

const portAudioFramesPerBuffer = 1024

// paDevice opens one native PortAudio stream per Open call, so assets
// play at their own sample rate without conversion.
type paDevice struct {
	logger *log.Logger

	mu      sync.Mutex
	streams map[*paStream]struct{}
	closed  bool
}

func newPortAudio(cfg Config, logger *log.Logger) (sound.Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	logger.Debug("Audio output initialized", "backend", BackendPortAudio, "version", portaudio.VersionText())
	return &paDevice{logger: logger, streams: make(map[*paStream]struct{})}, nil
}

func (d *paDevice) Name() string { return string(BackendPortAudio) }

func (d *paDevice) Open(sampleRate, channels int) (sound.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, sound.DeviceError("open", errors.New("device is closed"))
	}

	s := &paStream{
		device:   d,
		channels: channels,
		buf:      make([]float32, portAudioFramesPerBuffer*channels),
	}
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), portAudioFramesPerBuffer, s.buf)
	if err != nil {
		return nil, sound.DeviceError("open", err)
	}
	s.stream = stream
	d.streams[s] = struct{}{}
	return s, nil
}

func (d *paDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	streams := make([]*paStream, 0, len(d.streams))
	for s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	for _, s := range streams {
		s.Abort()
		_ = s.Close()
	}
	return portaudio.Terminate()
}

type paStream struct {
	device   *paDevice
	stream   *portaudio.Stream
	channels int
	buf      []float32

	mu        sync.Mutex
	started   bool
	aborted   bool
	closeOnce sync.Once
}

func (s *paStream) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return ErrAborted
	}
	if s.started {
		return nil
	}
	if err := s.stream.Start(); err != nil {
		return sound.DeviceError("start", err)
	}
	s.started = true
	return nil
}

// Write copies frames into the stream buffer one period at a time;
// stream.Write blocks at device cadence.
func (s *paStream) Write(frames []float32) error {
	if err := s.start(); err != nil {
		return err
	}
	for off := 0; off < len(frames); off += len(s.buf) {
		n := copy(s.buf, frames[off:])
		clear(s.buf[n:])
		if err := s.stream.Write(); err != nil {
			if s.isAborted() {
				return ErrAborted
			}
			if errors.Is(err, portaudio.OutputUnderflowed) {
				continue
			}
			return sound.DeviceError("write", err)
		}
	}
	return nil
}

// Drain stops the stream, which waits for queued buffers to play out.
// The next Write restarts it.
func (s *paStream) Drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return ErrAborted
	}
	if !s.started {
		return nil
	}
	s.started = false
	if err := s.stream.Stop(); err != nil {
		return sound.DeviceError("drain", err)
	}
	return nil
}

func (s *paStream) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *paStream) Abort() {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started {
		if err := s.stream.Abort(); err != nil {
			s.device.logger.Debug("PortAudio abort failed", "error", err)
		}
	}
}

func (s *paStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.Close()
		s.device.mu.Lock()
		delete(s.device.streams, s)
		s.device.mu.Unlock()
	})
	return err
}
