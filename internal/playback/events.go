package playback

import (
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// EventKind classifies dispatcher events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventFinished
	EventDropped
	EventNotFound
	EventPlaybackError
	EventStopped
	EventForcedStop
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventFinished:
		return "finished"
	case EventDropped:
		return "dropped"
	case EventNotFound:
		return "not_found"
	case EventPlaybackError:
		return "playback_error"
	case EventStopped:
		return "stopped"
	case EventForcedStop:
		return "forced_stop"
	default:
		return "unknown"
	}
}

// Event reports something that happened to a play request. Session is
// the zero UUID for requests that never became a session.
type Event struct {
	Kind    EventKind
	Session SessionID
	Name    string
	Err     error
	At      time.Time
}

const notFoundWindow = time.Minute

// observer drains events off the caller path and logs them.
type observer struct {
	events    chan Event
	quit      chan struct{}
	done      chan struct{}
	discarded atomic.Int64

	logger     *log.Logger
	hook       func(Event)
	dropLimit  *rate.Limiter
	suppressed int
	notFound   *cache.Cache
}

func newObserver(buffer int, logger *log.Logger, hook func(Event)) *observer {
	return &observer{
		events:    make(chan Event, buffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger,
		hook:      hook,
		dropLimit: rate.NewLimiter(rate.Every(time.Second), 5),
		notFound:  cache.New(notFoundWindow, 2*notFoundWindow),
	}
}

// emit never blocks. Events that do not fit are counted and discarded.
func (o *observer) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case o.events <- ev:
	default:
		o.discarded.Add(1)
	}
}

func (o *observer) run() {
	defer close(o.done)
	for {
		select {
		case ev := <-o.events:
			o.handle(ev)
		case <-o.quit:
			for {
				select {
				case ev := <-o.events:
					o.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (o *observer) stop() {
	close(o.quit)
	<-o.done
}

func (o *observer) handle(ev Event) {
	switch ev.Kind {
	case EventStarted:
		o.logger.Debug("Playback started", "sound", ev.Name, "session", ev.Session)
	case EventFinished:
		o.logger.Debug("Playback finished", "sound", ev.Name, "session", ev.Session)
	case EventStopped:
		o.logger.Debug("Playback stopped", "sound", ev.Name, "session", ev.Session)
	case EventForcedStop:
		o.logger.Warn("Playback force-stopped", "sound", ev.Name, "session", ev.Session)
	case EventPlaybackError:
		o.logger.Error("Playback failed", "sound", ev.Name, "session", ev.Session, "error", ev.Err)
	case EventDropped:
		if o.dropLimit.Allow() {
			o.logger.Warn("Playback queue full, dropping request", "sound", ev.Name, "suppressed", o.suppressed)
			o.suppressed = 0
		} else {
			o.suppressed++
		}
	case EventNotFound:
		// Add fails while the name is still cached, so each name warns
		// at most once per window.
		if err := o.notFound.Add(ev.Name, struct{}{}, cache.DefaultExpiration); err == nil {
			o.logger.Warn("Sound not found", "sound", ev.Name)
		}
	}

	if o.hook != nil {
		o.hook(ev)
	}
}
