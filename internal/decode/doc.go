// Package decode adapts third-party codecs to sound.Decoder. It detects
// WAV and MP3 content, decodes it once into normalized float32 PCM and
// classifies failures as decode or I/O errors.
package decode
