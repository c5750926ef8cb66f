package media

import (
	"context"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"
)

const (
	StatePending = "pending"
	StateActive  = "active"
	StateClosed  = "closed"

	eventActivate = "activate"
	eventClose    = "close"
)

// Session is one call slot keyed by remote id.
type Session struct {
	peer     string
	outbound bool
	conn     Conn
	stream   RemoteStream
	backoff  time.Duration
	machine  *fsm.FSM

	// explicit marks a local close; no reconnect follows it.
	explicit       bool
	retryScheduled bool
}

func newSession(peer string, outbound bool, backoff time.Duration) *Session {
	s := &Session{peer: peer, outbound: outbound, backoff: backoff}
	s.machine = fsm.NewFSM(
		StatePending,
		fsm.Events{
			{Name: eventActivate, Src: []string{StatePending}, Dst: StateActive},
			{Name: eventClose, Src: []string{StatePending, StateActive}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				log.Debug().Str("module", "media").Str("peer", peer).
					Str("from", e.Src).Str("to", e.Dst).Msg("session state")
			},
		},
	)
	return s
}

func (s *Session) Peer() string         { return s.peer }
func (s *Session) Outbound() bool       { return s.outbound }
func (s *Session) State() string        { return s.machine.Current() }
func (s *Session) Stream() RemoteStream { return s.stream }

func (s *Session) closed() bool { return s.machine.Is(StateClosed) }

func (s *Session) activate() {
	if s.machine.Can(eventActivate) {
		_ = s.machine.Event(context.Background(), eventActivate)
	}
}

// close reports whether this call moved the session to closed.
func (s *Session) close() bool {
	if !s.machine.Can(eventClose) {
		return false
	}
	return s.machine.Event(context.Background(), eventClose) == nil
}
