package decode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/riff"
	"github.com/go-audio/wav"

	"github.com/dgnsrekt/chime/internal/sound"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

func decodeWAV(data []byte) (*sound.PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}
	switch d.WavAudioFormat {
	case wavFormatPCM:
	case wavFormatExtensible:
		sub, err := extensibleSubFormat(data)
		if err != nil {
			return nil, err
		}
		if sub != wavFormatPCM {
			return nil, fmt.Errorf("unsupported WAV extensible sub-format %#x", sub)
		}
	default:
		return nil, fmt.Errorf("unsupported WAV encoding %#x", d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read WAV samples: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, errors.New("WAV file has no format chunk")
	}

	depth := int(d.BitDepth)
	samples := make([]float32, len(buf.Data))
	switch {
	case depth == 8:
		// 8-bit WAV is unsigned.
		for i, v := range buf.Data {
			samples[i] = float32(v-128) / 128
		}
	case depth > 8 && depth <= 32:
		scale := float32(int64(1) << (depth - 1))
		for i, v := range buf.Data {
			samples[i] = clamp(float32(v) / scale)
		}
	default:
		return nil, fmt.Errorf("unsupported WAV bit depth %d", depth)
	}

	return &sound.PCM{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

// extensibleSubFormat returns the format code carried in the first two
// bytes of a WAVE_FORMAT_EXTENSIBLE sub-format GUID. The wav decoder
// skips that part of the fmt chunk.
func extensibleSubFormat(data []byte) (uint16, error) {
	p := riff.New(bytes.NewReader(data))
	if err := p.ParseHeaders(); err != nil {
		return 0, fmt.Errorf("read WAV headers: %w", err)
	}
	for {
		ch, err := p.NextChunk()
		if err != nil {
			return 0, errors.New("WAV file has no format chunk")
		}
		if ch.ID != riff.FmtID {
			ch.Drain()
			continue
		}
		body := make([]byte, ch.Size)
		if _, err := io.ReadFull(ch, body); err != nil {
			return 0, fmt.Errorf("read WAV format chunk: %w", err)
		}
		// 16 byte base header, cbSize, valid bits, channel mask, GUID.
		if len(body) < 40 {
			return 0, fmt.Errorf("WAV extensible format chunk too short (%d bytes)", len(body))
		}
		return binary.LittleEndian.Uint16(body[24:26]), nil
	}
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
