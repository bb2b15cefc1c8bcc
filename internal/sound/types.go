package sound

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// MaxNameLength bounds registered sound names.
const MaxNameLength = 128

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// ValidateName checks that name is usable as a registry key.
func ValidateName(name string) error {
	switch {
	case name == "":
		return InvalidNameError(name, errors.New("name is empty"))
	case len(name) > MaxNameLength:
		return InvalidNameError(name, fmt.Errorf("name longer than %d bytes", MaxNameLength))
	case !namePattern.MatchString(name):
		return InvalidNameError(name, errors.New("name may only contain letters, digits, '_', '-' and '.'"))
	}
	return nil
}

// PCM is decoded audio: interleaved float32 samples in [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames.
func (p *PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Validate checks the PCM header and sample alignment.
func (p *PCM) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}
	if p.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", p.Channels)
	}
	if len(p.Samples) == 0 {
		return errors.New("no audio frames")
	}
	if len(p.Samples)%p.Channels != 0 {
		return fmt.Errorf("%d samples are not aligned to %d channels", len(p.Samples), p.Channels)
	}
	return nil
}

// Upmix returns a stereo copy of mono PCM. Other layouts are returned
// unchanged.
func (p *PCM) Upmix() *PCM {
	if p.Channels != 1 {
		return p
	}
	out := make([]float32, len(p.Samples)*2)
	for i, s := range p.Samples {
		out[2*i] = s
		out[2*i+1] = s
	}
	return &PCM{Samples: out, SampleRate: p.SampleRate, Channels: 2}
}

// Asset is a decoded, cached sound. It is never mutated after NewAsset
// returns.
type Asset struct {
	name       string
	source     string
	samples    []float32
	sampleRate int
	channels   int
	loadedAt   time.Time
}

// NewAsset takes ownership of pcm.Samples; the caller must not keep a
// reference to them.
func NewAsset(name, source string, pcm *PCM) (*Asset, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := pcm.Validate(); err != nil {
		return nil, DecodeError(name, err)
	}
	return &Asset{
		name:       name,
		source:     source,
		samples:    pcm.Samples,
		sampleRate: pcm.SampleRate,
		channels:   pcm.Channels,
		loadedAt:   time.Now(),
	}, nil
}

func (a *Asset) Name() string        { return a.name }
func (a *Asset) Source() string      { return a.source }
func (a *Asset) SampleRate() int     { return a.sampleRate }
func (a *Asset) Channels() int       { return a.channels }
func (a *Asset) LoadedAt() time.Time { return a.loadedAt }

// Frames returns the number of sample frames.
func (a *Asset) Frames() int {
	return len(a.samples) / a.channels
}

// Duration returns the playback length at the asset's own sample rate.
func (a *Asset) Duration() time.Duration {
	return time.Duration(a.Frames()) * time.Second / time.Duration(a.sampleRate)
}

// SizeBytes is the in-memory size of the sample buffer.
func (a *Asset) SizeBytes() int {
	return len(a.samples) * 4
}

// Samples returns a copy of the interleaved samples.
func (a *Asset) Samples() []float32 {
	out := make([]float32, len(a.samples))
	copy(out, a.samples)
	return out
}

// PCM returns the shared sample buffer without copying. Callers must
// treat it as read-only; it backs every playback of this asset.
func (a *Asset) PCM() []float32 {
	return a.samples
}
