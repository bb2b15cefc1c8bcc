// Package soundtest builds audio fixtures for tests.
package soundtest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Tone returns interleaved 16-bit samples of a sine at freq Hz.
func Tone(sampleRate, channels int, freq float64, frames int) []int {
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		v := int(math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)) * 16000)
		for c := 0; c < channels; c++ {
			data[i*channels+c] = v
		}
	}
	return data
}

// WriteWAV encodes 16-bit PCM samples into dir/name and returns the path.
func WriteWAV(t testing.TB, dir, name string, sampleRate, channels int, samples []int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close() //nolint:errcheck

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finalize %s: %v", path, err)
	}
	return path
}

// WAVBytes encodes samples and returns the file contents.
func WAVBytes(t testing.TB, sampleRate, channels int, samples []int) []byte {
	t.Helper()

	path := WriteWAV(t, t.TempDir(), "fixture.wav", sampleRate, channels, samples)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

// WriteFile writes raw bytes, for corrupt-source fixtures.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
