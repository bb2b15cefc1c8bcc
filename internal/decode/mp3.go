package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/dgnsrekt/chime/internal/sound"
)

// go-mp3 always produces 16-bit little-endian stereo.
const mp3Channels = 2

func decodeMP3(data []byte) (*sound.PCM, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open MP3 stream: %w", err)
	}

	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("read MP3 frames: %w", err)
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	// Drop a trailing partial frame.
	samples = samples[:len(samples)-len(samples)%mp3Channels]

	return &sound.PCM{
		Samples:    samples,
		SampleRate: d.SampleRate(),
		Channels:   mp3Channels,
	}, nil
}
