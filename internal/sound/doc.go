// Package sound holds the types shared by the decoder, registry, device
// and playback layers: decoded assets, the error taxonomy and the
// Decoder/Device/Stream contracts.
package sound
