//go:build !portaudio

package device

import (
	"errors"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chime/internal/sound"
)

func newPortAudio(Config, *log.Logger) (sound.Device, error) {
	return nil, errors.New("portaudio backend not built; rebuild with -tags portaudio")
}
