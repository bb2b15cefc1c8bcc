package sfx

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dgnsrekt/chime/internal/device"
	"github.com/dgnsrekt/chime/internal/playback"
	"github.com/dgnsrekt/chime/internal/sound"
)

// EnvPrefix prefixes every environment variable read by ConfigFromEnv.
const EnvPrefix = "CHIME_"

// Config configures a Manager.
type Config struct {
	// SoundsDir holds user sound files. Relative entries of the sound
	// table and of a sounds.yaml manifest found there resolve against it.
	SoundsDir string `env:"SOUNDS_DIR" mapstructure:"sounds_dir"`

	// Sounds adds or overrides name to file entries of the sound table.
	Sounds map[string]string `env:"SOUNDS" mapstructure:"sounds"`

	// NoDefaults skips the bundled sound set.
	NoDefaults bool `env:"NO_DEFAULTS" mapstructure:"no_defaults"`

	// ForceStereo upmixes mono sources when they are loaded.
	ForceStereo bool `env:"FORCE_STEREO" envDefault:"true" mapstructure:"force_stereo"`

	// MaxSourceBytes caps the size of a sound file; zero uses the
	// decoder default.
	MaxSourceBytes int64 `env:"MAX_SOURCE_BYTES" mapstructure:"max_source_bytes"`

	// Output device
	Backend      string        `env:"BACKEND"       envDefault:"auto"  mapstructure:"backend"`
	Fallback     string        `env:"FALLBACK"      envDefault:"none"  mapstructure:"fallback"`
	SampleRate   int           `env:"SAMPLE_RATE"   envDefault:"44100" mapstructure:"sample_rate"`
	Channels     int           `env:"CHANNELS"      envDefault:"2"     mapstructure:"channels"`
	DeviceBuffer time.Duration `env:"DEVICE_BUFFER" envDefault:"50ms"  mapstructure:"device_buffer"`
	Warmup       bool          `env:"WARMUP"        envDefault:"true"  mapstructure:"warmup"`

	// Dispatch
	QueueSize   int           `env:"QUEUE_SIZE"   envDefault:"16"    mapstructure:"queue_size"`
	Lanes       int           `env:"LANES"        envDefault:"4"     mapstructure:"lanes"`
	MaxLanes    int           `env:"MAX_LANES"    envDefault:"0"     mapstructure:"max_lanes"`
	BlockSize   int           `env:"BLOCK_SIZE"   envDefault:"2048"  mapstructure:"block_size"`
	StopTimeout time.Duration `env:"STOP_TIMEOUT" envDefault:"250ms" mapstructure:"stop_timeout"`
	IdleClose   time.Duration `env:"IDLE_CLOSE"   envDefault:"30s"   mapstructure:"idle_close"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	dev := device.DefaultConfig()
	pb := playback.DefaultConfig()
	return Config{
		ForceStereo:  true,
		Backend:      string(dev.Backend),
		Fallback:     string(device.BackendNone),
		SampleRate:   dev.SampleRate,
		Channels:     dev.Channels,
		DeviceBuffer: dev.BufferSize,
		Warmup:       true,
		QueueSize:    pb.QueueSize,
		Lanes:        pb.Lanes,
		MaxLanes:     pb.MaxLanes,
		BlockSize:    pb.BlockSize,
		StopTimeout:  pb.StopTimeout,
		IdleClose:    pb.IdleClose,
	}
}

// ConfigFromEnv reads CHIME_* environment variables on top of the
// defaults.
func ConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: EnvPrefix})
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse %s environment: %w", EnvPrefix, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.deviceConfig().Validate(); err != nil {
		return err
	}
	switch device.Backend(c.Fallback) {
	case "", device.BackendNone:
	default:
		fb := c.deviceConfig()
		fb.Backend = device.Backend(c.Fallback)
		if err := fb.Validate(); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
		if fb.Backend == device.Backend(c.Backend) {
			return errors.New("fallback backend must differ from the primary backend")
		}
	}
	if err := c.playbackConfig().Validate(); err != nil {
		return err
	}
	if c.MaxSourceBytes < 0 {
		return errors.New("max source bytes must not be negative")
	}
	for name := range c.Sounds {
		if err := sound.ValidateName(name); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) deviceConfig() device.Config {
	cfg := device.DefaultConfig()
	cfg.Backend = device.Backend(c.Backend)
	cfg.SampleRate = c.SampleRate
	cfg.Channels = c.Channels
	cfg.BufferSize = c.DeviceBuffer
	return cfg
}

func (c Config) fallbackConfig() (device.Config, bool) {
	switch device.Backend(c.Fallback) {
	case "", device.BackendNone:
		return device.Config{}, false
	}
	cfg := c.deviceConfig()
	cfg.Backend = device.Backend(c.Fallback)
	cfg.Retries = 0
	return cfg, true
}

func (c Config) playbackConfig() playback.Config {
	cfg := playback.DefaultConfig()
	cfg.QueueSize = c.QueueSize
	cfg.Lanes = c.Lanes
	cfg.MaxLanes = c.MaxLanes
	cfg.BlockSize = c.BlockSize
	cfg.StopTimeout = c.StopTimeout
	cfg.IdleClose = c.IdleClose
	return cfg
}
