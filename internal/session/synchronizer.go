// Package session keeps the presence registry in step with the relay room.
package session

import (
	"context"
	"sort"
	"time"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/eventloop"
	"github.com/dkeye/proximity/internal/presence"
	"github.com/rs/zerolog/log"
)

// DefaultInterval bounds outbound self updates to roughly 30 per second.
const DefaultInterval = 33 * time.Millisecond

// Channel is the outbound half of the relay room socket.
type Channel interface {
	Join(room domain.RoomName, st domain.NodeState) error
	Update(room domain.RoomName, st domain.NodeState) error
}

// Identity (re)establishes the local media identity. done runs on the loop.
type Identity interface {
	Init(ctx context.Context, done func(id string, err error))
}

type Config struct {
	Room     domain.RoomName
	Interval time.Duration
}

// Synchronizer applies relay events to the registry and publishes self
// changes back. All methods must run on the executor.
type Synchronizer struct {
	cfg   Config
	ex    eventloop.Executor
	reg   *presence.Registry
	ch    Channel
	ident Identity

	throttled bool
	window    eventloop.Timer
	unsub     func()
	onError   func(error)
	closed    bool
}

func New(cfg Config, ex eventloop.Executor, reg *presence.Registry, ch Channel, ident Identity) *Synchronizer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	s := &Synchronizer{cfg: cfg, ex: ex, reg: reg, ch: ch, ident: ident}
	s.unsub = reg.Self().Subscribe(presence.EventUpdated, func(*presence.Node) { s.selfChanged() })
	return s
}

// OnError receives identity failures from HandleConnect. Nothing is retried.
func (s *Synchronizer) OnError(fn func(error)) { s.onError = fn }

// HandleConnect runs when the room socket opens.
func (s *Synchronizer) HandleConnect(ctx context.Context) {
	s.ident.Init(ctx, func(id string, err error) {
		if s.closed {
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "session").Msg("identity init failed")
			if s.onError != nil {
				s.onError(err)
			}
			return
		}
		self := s.reg.Self()
		if self.ID() != id {
			if stale, ok := s.reg.Get(id); ok && !s.reg.IsSelf(stale) {
				s.reg.Delete(stale)
			}
			if err := s.reg.Rekey(self, id); err != nil {
				log.Error().Err(err).Str("module", "session").Str("peer", id).Msg("rekey self")
				return
			}
		}
		s.reg.SetDisconnected(false)
		if err := s.ch.Join(s.cfg.Room, self.State()); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("join not sent")
			return
		}
		log.Info().Str("module", "session").Str("self", id).Str("room", string(s.cfg.Room)).Msg("joined")
	})
}

// HandleInit reconciles the registry against a full membership snapshot.
func (s *Synchronizer) HandleInit(nodes map[string]domain.NodeState) {
	for _, n := range s.reg.Others() {
		if _, ok := nodes[n.ID()]; !ok {
			s.reg.Delete(n)
		}
	}
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		st := nodes[id]
		if st.ID == "" {
			st.ID = id
		}
		s.upsert(st)
	}
}

// HandleUpdate applies one node state. Unknown ids are created.
func (s *Synchronizer) HandleUpdate(st domain.NodeState) {
	s.upsert(st)
}

func (s *Synchronizer) HandlePeerLeft(id string) {
	if n, ok := s.reg.Get(id); ok && !s.reg.IsSelf(n) {
		s.reg.Delete(n)
	}
}

// HandleDisconnect stops outbound updates. Nodes are kept until the next init.
func (s *Synchronizer) HandleDisconnect() {
	s.reg.SetDisconnected(true)
}

func (s *Synchronizer) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.unsub()
	if s.window != nil {
		s.window.Stop()
	}
}

func (s *Synchronizer) upsert(st domain.NodeState) {
	if st.ID == s.reg.Self().ID() {
		return
	}
	if err := st.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("peer", st.ID).Msg("node state dropped")
		return
	}
	if n, ok := s.reg.Get(st.ID); ok {
		n.Apply(st)
		return
	}
	n := presence.NewNode(st.ID)
	n.Apply(st)
	_ = s.reg.Add(n)
}

// selfChanged sends on the leading edge of each interval and drops the rest.
func (s *Synchronizer) selfChanged() {
	if s.closed || s.reg.Disconnected() || s.throttled {
		return
	}
	s.throttled = true
	s.window = s.ex.AfterFunc(s.cfg.Interval, func() { s.throttled = false })
	if err := s.ch.Update(s.cfg.Room, s.reg.Self().State()); err != nil {
		log.Debug().Err(err).Str("module", "session").Msg("self update not sent")
	}
}
