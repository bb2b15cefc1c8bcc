package device

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chime/internal/sound"
)

// Backend selects a device implementation.
type Backend string

const (
	// BackendAuto uses oto unless running headless, falling back to mock.
	BackendAuto Backend = "auto"
	// BackendOto uses the process-wide oto context.
	BackendOto Backend = "oto"
	// BackendPortAudio uses PortAudio blocking streams (build tag portaudio).
	BackendPortAudio Backend = "portaudio"
	// BackendMock paces writes in real time without producing sound.
	BackendMock Backend = "mock"
	// BackendNone disables a fallback device.
	BackendNone Backend = "none"
)

// ErrAborted is returned by Write and Drain after Abort.
var ErrAborted = errors.New("stream aborted")

// Config describes the output format and backend.
type Config struct {
	Backend    Backend
	SampleRate int
	Channels   int

	// BufferSize is the device-side buffer latency.
	BufferSize time.Duration

	// ReadyTimeout bounds backend initialization.
	ReadyTimeout time.Duration

	// Retries is the number of extra initialization attempts.
	Retries int
}

// DefaultConfig returns 44.1kHz stereo with a 50ms device buffer.
func DefaultConfig() Config {
	return Config{
		Backend:      BackendAuto,
		SampleRate:   44100,
		Channels:     2,
		BufferSize:   50 * time.Millisecond,
		ReadyTimeout: 5 * time.Second,
		Retries:      defaultRetries(),
	}
}

// defaultRetries mirrors per-platform audio stack quirks: CoreAudio and
// WASAPI can fail transiently right after process start.
func defaultRetries() int {
	switch runtime.GOOS {
	case "darwin":
		return 2
	case "windows":
		return 1
	default:
		return 0
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendOto, BackendPortAudio, BackendMock:
	default:
		return fmt.Errorf("unknown audio backend %q", c.Backend)
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("sample rate must be between 8000 and 192000 Hz, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", c.Channels)
	}
	if c.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}
	return nil
}

// New creates the configured device.
func New(cfg Config, logger *log.Logger) (sound.Device, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendOto:
		return newOtoWithRetry(cfg, logger)
	case BackendPortAudio:
		return newPortAudio(cfg, logger)
	case BackendMock:
		logger.Debug("Creating mock audio device")
		return NewMock(MockConfig{Pace: 1}), nil
	case BackendAuto:
		if IsHeadless() {
			logger.Info("Using mock audio device", "reason", "headless environment")
			return NewMock(MockConfig{Pace: 1}), nil
		}
		dev, err := newOtoWithRetry(cfg, logger)
		if err != nil {
			logger.Warn("Failed to open audio output, falling back to mock", "error", err)
			return NewMock(MockConfig{Pace: 1}), nil
		}
		return dev, nil
	}
	return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
}

func newOtoWithRetry(cfg Config, logger *log.Logger) (sound.Device, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if attempt > 0 {
			logger.Debug("Retrying audio device initialization", "attempt", attempt+1, "of", cfg.Retries+1)
			time.Sleep(150 * time.Millisecond)
		}
		dev, err := newOto(cfg, logger)
		if err == nil {
			return dev, nil
		}
		lastErr = err
		logger.Debug("Audio device initialization failed", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("failed to initialize audio device after %d attempts: %w", cfg.Retries+1, lastErr)
}

// IsHeadless detects CI runners and explicit mock requests.
func IsHeadless() bool {
	ciVars := []string{
		"CI",
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"JENKINS_URL",
		"BUILDKITE",
	}
	for _, envVar := range ciVars {
		if val := os.Getenv(envVar); val != "" && val != "false" {
			return true
		}
	}
	return os.Getenv("CHIME_MOCK_AUDIO") == "true"
}

// Warmup opens a stream, plays a few frames of silence and closes it so
// the first real sound does not pay device start-up latency.
func Warmup(dev sound.Device, sampleRate, channels, frames int) error {
	s, err := dev.Open(sampleRate, channels)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	if err := s.Write(make([]float32, frames*channels)); err != nil {
		return err
	}
	return s.Drain()
}
