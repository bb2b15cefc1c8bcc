// Package assets bundles the default sound set into the binary.
package assets

import (
	"embed"
	"io/fs"
	"maps"
	"path"
	"slices"
)

//go:embed sounds/*.wav
var sounds embed.FS

// defaultSet maps registry names to embedded file names.
var defaultSet = map[string]string{
	"AP_Engage":       "AP_Engage.wav",
	"AP_Disengage":    "AP_Disengage.wav",
	"NoA_Engage":      "NoA_Engage.wav",
	"rec_start_voice": "rec_start_voice.wav",
	"rec_stop_voice":  "rec_stop_voice.wav",
	"chime_single":    "chime_single.wav",
	"chime_hi_lo":     "chime_hi_lo.wav",
}

// FS returns the embedded sound files, rooted at the sound directory.
func FS() fs.FS {
	sub, err := fs.Sub(sounds, "sounds")
	if err != nil {
		panic(err)
	}
	return sub
}

// DefaultSet returns a copy of the default name to file table. File
// names are relative to FS, and to a user sound directory when one is
// configured.
func DefaultSet() map[string]string {
	return maps.Clone(defaultSet)
}

// Names returns the default sound names, sorted.
func Names() []string {
	return slices.Sorted(maps.Keys(defaultSet))
}

// Open returns the embedded bytes of a default sound.
func Open(name string) ([]byte, bool) {
	file, ok := defaultSet[name]
	if !ok {
		return nil, false
	}
	data, err := sounds.ReadFile(path.Join("sounds", file))
	if err != nil {
		return nil, false
	}
	return data, true
}
