package playback

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chime/internal/sound"
)

var errStopped = errors.New("session stopped")

// lane is one output worker. It owns at most one open stream, reused
// while consecutive sessions share a format. Extra lanes are started
// under load and exit once idle.
type lane struct {
	id     int
	extra  bool
	d      *Dispatcher
	logger *log.Logger

	stream     sound.Stream
	device     sound.Device
	sampleRate int
	channels   int
}

func (d *Dispatcher) runLane(id int, extra bool) {
	defer d.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l := &lane{id: id, extra: extra, d: d, logger: d.logger.With("lane", id)}
	if err := raisePriority(); err != nil {
		l.logger.Debug("Could not raise playback thread priority", "error", err)
	}
	defer l.release()

	idle := time.NewTimer(d.cfg.IdleClose)
	idle.Stop()
	defer idle.Stop()

	for {
		select {
		case <-d.quit:
			return
		case s := <-d.queue:
			l.serve(s)
			d.laneFree()
			if l.stream != nil || l.extra {
				idle.Reset(d.cfg.IdleClose)
			}
		case <-idle.C:
			l.logger.Debug("Closing idle stream")
			l.release()
			if l.extra {
				if d.retireLane() {
					l.logger.Debug("Extra lane exiting")
					return
				}
				idle.Reset(d.cfg.IdleClose)
			}
		}
	}
}

// serve plays one session to completion, stop, or failure. A panic is
// reported as a playback error and the lane keeps running.
func (l *lane) serve(s *session) {
	defer func() {
		if r := recover(); r != nil {
			l.discard()
			s.detach()
			l.d.finish(s, EventPlaybackError, sound.PlaybackError(s.asset.Name(), fmt.Errorf("panic: %v", r)))
		}
	}()

	if !s.transition(StateQueued, StatePlaying) {
		// Stopped while queued; StopAll already completed it.
		return
	}
	s.markStarted()
	l.d.started.Add(1)
	l.d.observer.emit(Event{Kind: EventStarted, Session: s.id, Name: s.asset.Name()})

	err := l.play(s)
	s.detach()

	switch {
	case err == nil:
		if s.transition(StatePlaying, StateFinished) {
			l.d.finish(s, EventFinished, nil)
			return
		}
		// Stop arrived after the last block was written.
		l.discard()
		l.d.finish(s, EventStopped, nil)
	case s.stopped():
		l.discard()
		l.d.finish(s, EventStopped, nil)
	default:
		l.discard()
		s.requestStop()
		l.d.finish(s, EventPlaybackError, err)
	}
}

// play writes the asset in blocks, moving to the fallback device once if
// the primary fails.
func (l *lane) play(s *session) error {
	samples := s.asset.PCM()
	pos := 0
	usedFallback := false

	for {
		dev := l.d.device
		if usedFallback {
			dev = l.d.fallback
		}

		var err error
		pos, err = l.playFrom(s, dev, samples, pos)
		if err == nil || errors.Is(err, errStopped) || s.stopped() {
			return err
		}
		if usedFallback || l.d.fallback == nil || !errors.Is(err, sound.ErrDevice) {
			return err
		}

		// Report the primary failure and retry on the fallback.
		l.d.observer.emit(Event{Kind: EventPlaybackError, Session: s.id, Name: s.asset.Name(), Err: err})
		l.logger.Warn("Output device failed, retrying on fallback",
			"device", dev.Name(), "fallback", l.d.fallback.Name(), "error", err)
		l.discard()
		usedFallback = true
	}
}

// playFrom writes samples[pos:] and drains. It returns the position
// reached so a retry can resume there.
func (l *lane) playFrom(s *session, dev sound.Device, samples []float32, pos int) (int, error) {
	st, err := l.acquire(dev, s.asset.SampleRate(), s.asset.Channels())
	if err != nil {
		return pos, err
	}
	s.attach(st)

	block := l.d.cfg.BlockSize * s.asset.Channels()
	for pos < len(samples) {
		if s.stopped() {
			return pos, errStopped
		}
		end := min(pos+block, len(samples))
		if err := st.Write(samples[pos:end]); err != nil {
			return pos, l.wrap(s, err)
		}
		pos = end
	}

	if s.stopped() {
		return pos, errStopped
	}
	if err := st.Drain(); err != nil {
		return pos, l.wrap(s, err)
	}
	return pos, nil
}

func (l *lane) wrap(s *session, err error) error {
	if s.stopped() {
		return errStopped
	}
	if errors.Is(err, sound.ErrDevice) {
		return err
	}
	return sound.PlaybackError(s.asset.Name(), err)
}

// acquire returns the lane's stream, reopening it when the device or
// format changed.
func (l *lane) acquire(dev sound.Device, sampleRate, channels int) (sound.Stream, error) {
	if l.stream != nil && l.device == dev && l.sampleRate == sampleRate && l.channels == channels {
		return l.stream, nil
	}
	l.release()

	st, err := dev.Open(sampleRate, channels)
	if err != nil {
		if !errors.Is(err, sound.ErrDevice) {
			err = sound.DeviceError("open", err)
		}
		return nil, err
	}
	l.stream = st
	l.device = dev
	l.sampleRate = sampleRate
	l.channels = channels
	l.logger.Debug("Opened stream", "device", dev.Name(), "rate", sampleRate, "channels", channels)
	return st, nil
}

// discard silences whatever the stream still has buffered and closes it.
func (l *lane) discard() {
	if l.stream == nil {
		return
	}
	l.stream.Abort()
	l.release()
}

// release closes the cached stream.
func (l *lane) release() {
	if l.stream == nil {
		return
	}
	if err := l.stream.Close(); err != nil {
		l.logger.Debug("Error closing stream", "error", err)
	}
	l.stream = nil
	l.device = nil
}
