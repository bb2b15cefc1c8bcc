// Package device implements sound.Device backends: oto (default), a
// PortAudio backend built with the "portaudio" tag, and a mock device
// that paces and records writes for tests and headless environments.
package device
