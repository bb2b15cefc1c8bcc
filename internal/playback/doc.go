// Package playback schedules sound assets onto output device streams.
//
// Callers hand a name to Dispatcher.Play, which resolves it against an
// asset source and queues a session without blocking. A fixed set of
// lanes pulls sessions off the queue in submission order and writes
// their frames to the device in blocks. When the queue is full the
// newest request is dropped; sessions already playing are never
// interrupted except by StopAll.
package playback
