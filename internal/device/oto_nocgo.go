//go:build nocgo

package device

import (
	"errors"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chime/internal/sound"
)

func newOto(Config, *log.Logger) (sound.Device, error) {
	return nil, errors.New("audio output not available in nocgo build")
}
