//go:build linux

package playback

import "golang.org/x/sys/unix"

// playbackNice is the "above normal" niceness applied to lane threads.
const playbackNice = -5

// raisePriority lowers the niceness of the calling OS thread. The caller
// must have locked itself to the thread. Unprivileged processes get
// EACCES, which callers treat as non-fatal.
func raisePriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), playbackNice)
}
