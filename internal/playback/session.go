package playback

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/chime/internal/sound"
)

// SessionID identifies one Play call.
type SessionID = uuid.UUID

// State is the lifecycle state of a session.
type State int32

const (
	StateQueued State = iota
	StatePlaying
	StateStopped
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFinished
}

// SessionInfo is a read-only view of an active session.
type SessionInfo struct {
	ID        SessionID
	Name      string
	State     State
	QueuedAt  time.Time
	StartedAt time.Time
}

type session struct {
	id       SessionID
	asset    *sound.Asset
	queuedAt time.Time

	state     atomic.Int32
	startedAt atomic.Int64

	// stream is set while a lane is writing this session.
	mu     sync.Mutex
	stream sound.Stream

	doneOnce sync.Once
	done     chan struct{}
}

func newSession(asset *sound.Asset) *session {
	s := &session{
		id:       uuid.New(),
		asset:    asset,
		queuedAt: time.Now(),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateQueued))
	return s
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// requestStop moves a live session to Stopped and returns the state it
// was in. A terminal session is left alone.
func (s *session) requestStop() (State, bool) {
	for {
		cur := s.State()
		if cur.Terminal() {
			return cur, false
		}
		if s.transition(cur, StateStopped) {
			return cur, true
		}
	}
}

func (s *session) stopped() bool {
	return s.State() == StateStopped
}

func (s *session) markStarted() {
	s.startedAt.Store(time.Now().UnixNano())
}

func (s *session) attach(st sound.Stream) {
	s.mu.Lock()
	s.stream = st
	s.mu.Unlock()
}

func (s *session) detach() {
	s.mu.Lock()
	s.stream = nil
	s.mu.Unlock()
}

// abort cuts the attached stream, unblocking a lane stuck in Write.
func (s *session) abort() {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st != nil {
		st.Abort()
	}
}

// complete closes done exactly once and reports whether this call did it.
func (s *session) complete() bool {
	closed := false
	s.doneOnce.Do(func() {
		close(s.done)
		closed = true
	})
	return closed
}

func (s *session) info() SessionInfo {
	info := SessionInfo{
		ID:       s.id,
		Name:     s.asset.Name(),
		State:    s.State(),
		QueuedAt: s.queuedAt,
	}
	if ns := s.startedAt.Load(); ns != 0 {
		info.StartedAt = time.Unix(0, ns)
	}
	return info
}
