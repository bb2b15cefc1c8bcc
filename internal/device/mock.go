package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgnsrekt/chime/internal/sound"
)

// MockConfig tunes the mock device.
type MockConfig struct {
	// Pace scales real-time pacing of writes: 1 sleeps for the duration
	// of the written frames, 0 returns immediately.
	Pace float64

	// FailOpen makes the next FailOpen calls to Open fail.
	FailOpen int

	// FailWrites makes every Write fail with a device error.
	FailWrites bool

	// Hang makes Write block until the stream is aborted.
	Hang bool
}

// WriteRecord describes one accepted Write call.
type WriteRecord struct {
	Stream     int
	SampleRate int
	Channels   int
	Frames     int
	At         time.Time
}

// Mock is a sound.Device that produces no sound. It paces writes like a
// real device and records them for inspection.
type Mock struct {
	mu      sync.Mutex
	cfg     MockConfig
	opens   int
	active  int
	writes  []WriteRecord
	closed  bool
	onWrite func(WriteRecord)
}

// NewMock creates a mock device.
func NewMock(cfg MockConfig) *Mock {
	return &Mock{cfg: cfg}
}

func (m *Mock) Name() string { return string(BackendMock) }

// OnWrite registers a callback invoked after every accepted write.
func (m *Mock) OnWrite(fn func(WriteRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = fn
}

// SetFailOpen makes the next n Open calls fail.
func (m *Mock) SetFailOpen(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.FailOpen = n
}

// SetHang toggles blocking writes for streams opened afterwards.
func (m *Mock) SetHang(hang bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Hang = hang
}

func (m *Mock) Open(sampleRate, channels int) (sound.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, sound.DeviceError("open", errors.New("device is closed"))
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, sound.DeviceError("open", fmt.Errorf("unsupported format %d Hz/%d ch", sampleRate, channels))
	}
	if m.cfg.FailOpen > 0 {
		m.cfg.FailOpen--
		return nil, sound.DeviceError("open", errors.New("device busy"))
	}

	m.opens++
	m.active++
	return &MockStream{
		device:     m,
		id:         m.opens,
		sampleRate: sampleRate,
		channels:   channels,
		pace:       m.cfg.Pace,
		hang:       m.cfg.Hang,
		failWrites: m.cfg.FailWrites,
		abortCh:    make(chan struct{}),
	}, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Opens returns the number of successful Open calls.
func (m *Mock) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// ActiveStreams returns the number of opened, unclosed streams.
func (m *Mock) ActiveStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Writes returns a copy of every accepted write.
func (m *Mock) Writes() []WriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WriteRecord, len(m.writes))
	copy(out, m.writes)
	return out
}

// FramesWritten sums frames over all accepted writes.
func (m *Mock) FramesWritten() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, w := range m.writes {
		total += w.Frames
	}
	return total
}

// LastWrite returns the time of the most recent accepted write.
func (m *Mock) LastWrite() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) == 0 {
		return time.Time{}
	}
	return m.writes[len(m.writes)-1].At
}

func (m *Mock) record(w WriteRecord) {
	m.mu.Lock()
	m.writes = append(m.writes, w)
	fn := m.onWrite
	m.mu.Unlock()
	if fn != nil {
		fn(w)
	}
}

// MockStream is a stream opened from a Mock.
type MockStream struct {
	device     *Mock
	id         int
	sampleRate int
	channels   int
	pace       float64
	hang       bool
	failWrites bool

	abortOnce sync.Once
	abortCh   chan struct{}
	closeOnce sync.Once
}

func (s *MockStream) aborted() bool {
	select {
	case <-s.abortCh:
		return true
	default:
		return false
	}
}

func (s *MockStream) Write(frames []float32) error {
	if s.aborted() {
		return ErrAborted
	}
	if s.hang {
		<-s.abortCh
		return ErrAborted
	}
	if s.failWrites {
		return sound.DeviceError("write", errors.New("device disconnected"))
	}

	n := len(frames) / s.channels
	s.device.record(WriteRecord{
		Stream:     s.id,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Frames:     n,
		At:         time.Now(),
	})

	if s.pace > 0 {
		d := time.Duration(float64(n) / float64(s.sampleRate) * s.pace * float64(time.Second))
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-s.abortCh:
			return ErrAborted
		case <-timer.C:
		}
	}
	return nil
}

func (s *MockStream) Drain() error {
	if s.aborted() {
		return ErrAborted
	}
	return nil
}

func (s *MockStream) Abort() {
	s.abortOnce.Do(func() { close(s.abortCh) })
}

func (s *MockStream) Close() error {
	s.closeOnce.Do(func() {
		s.device.mu.Lock()
		s.device.active--
		s.device.mu.Unlock()
	})
	return nil
}
