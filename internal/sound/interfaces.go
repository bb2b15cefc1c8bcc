package sound

// Decoder turns encoded audio into PCM.
// hint is a file name or extension used when the content is ambiguous.
// Implementations return *Error with ErrorCodeDecode on malformed or
// unsupported input.
type Decoder interface {
	Decode(hint string, data []byte) (*PCM, error)
}

// Device is a connection to an audio output.
// Open may be called concurrently from several playback lanes; each
// call yields an independent stream.
type Device interface {
	// Name identifies the backend in logs.
	Name() string

	// Open returns a stream accepting frames at the given format.
	// Failures are *Error with ErrorCodeDevice.
	Open(sampleRate, channels int) (Stream, error)

	// Close releases the device. Streams opened from it become unusable.
	Close() error
}

// Stream accepts interleaved float32 frames in the format it was opened
// with.
type Stream interface {
	// Write blocks until the frames are accepted by the device, pacing
	// the caller at the device's cadence.
	Write(frames []float32) error

	// Drain blocks until every written frame has been played.
	Drain() error

	// Abort stops output immediately and unblocks a pending Write or
	// Drain. It is safe to call from any goroutine, more than once.
	Abort()

	// Close releases the stream.
	Close() error
}
