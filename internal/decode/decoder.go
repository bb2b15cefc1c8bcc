package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgnsrekt/chime/internal/sound"
)

// DefaultMaxSourceBytes bounds how much of a source file is read.
const DefaultMaxSourceBytes = 32 << 20

// Format is a detected container format.
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatUnknown Format = ""
)

// Adapter implements sound.Decoder for WAV and MP3.
type Adapter struct {
	// ForceStereo upmixes mono sources to two channels.
	ForceStereo bool

	// MaxSourceBytes caps file reads; zero means DefaultMaxSourceBytes.
	MaxSourceBytes int64
}

// New returns an adapter with the given stereo policy.
func New(forceStereo bool) *Adapter {
	return &Adapter{ForceStereo: forceStereo, MaxSourceBytes: DefaultMaxSourceBytes}
}

// Decode implements sound.Decoder.
func (a *Adapter) Decode(hint string, data []byte) (*sound.PCM, error) {
	if len(data) == 0 {
		return nil, sound.DecodeError(hint, errors.New("empty source"))
	}

	var (
		pcm *sound.PCM
		err error
	)
	switch format := Detect(hint, data); format {
	case FormatWAV:
		pcm, err = decodeWAV(data)
	case FormatMP3:
		pcm, err = decodeMP3(data)
	default:
		return nil, sound.DecodeError(hint, fmt.Errorf("unsupported format (extension %q)", filepath.Ext(hint)))
	}
	if err != nil {
		return nil, sound.DecodeError(hint, err)
	}
	if err := pcm.Validate(); err != nil {
		return nil, sound.DecodeError(hint, err)
	}
	if a.ForceStereo {
		pcm = pcm.Upmix()
	}
	return pcm, nil
}

// ReadFile reads a source from disk, classifying failures as I/O errors.
func (a *Adapter) ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sound.IOError(path, err)
	}
	defer f.Close() //nolint:errcheck
	return a.read(path, f)
}

// ReadFS reads a source from fsys, as used for embedded sound sets.
func (a *Adapter) ReadFS(fsys fs.FS, path string) ([]byte, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, sound.IOError(path, err)
	}
	defer f.Close() //nolint:errcheck
	return a.read(path, f)
}

func (a *Adapter) read(path string, r io.Reader) ([]byte, error) {
	limit := a.MaxSourceBytes
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, sound.IOError(path, err)
	}
	if int64(len(data)) > limit {
		return nil, sound.IOError(path, fmt.Errorf("source larger than %d bytes", limit))
	}
	return data, nil
}

// DecodeFile reads and decodes path.
func (a *Adapter) DecodeFile(path string) (*sound.PCM, error) {
	data, err := a.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return a.Decode(path, data)
}

// Detect sniffs the container format, falling back to the hint's
// extension.
func Detect(hint string, data []byte) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}

	switch strings.ToLower(filepath.Ext(hint)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	}
	return FormatUnknown
}

// Supported reports whether path has an extension this package decodes.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave", ".mp3":
		return true
	}
	return false
}
