package sfx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/chime/internal/sound"
)

// ManifestName is the sound table file looked up in Config.SoundsDir.
const ManifestName = "sounds.yaml"

// Manifest is a sound table stored next to the sound files:
//
//	sounds:
//	  door_open: doors/open.wav
//	  AP_Engage: custom_engage.mp3
type Manifest struct {
	Sounds map[string]string `yaml:"sounds"`
}

// LoadManifest reads and validates a manifest file. Errors from a missing
// file satisfy errors.Is(err, fs.ErrNotExist).
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest YAML. Unknown keys are rejected.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return Manifest{}, fmt.Errorf("failed to parse %s: %w", ManifestName, err)
	}
	for name, file := range m.Sounds {
		if err := sound.ValidateName(name); err != nil {
			return Manifest{}, err
		}
		if file == "" {
			return Manifest{}, fmt.Errorf("sound %q has no file", name)
		}
	}
	return m, nil
}

// Marshal encodes the manifest as YAML.
func (m Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}
