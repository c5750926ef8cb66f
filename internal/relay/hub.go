package relay

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}

// IdentitySource reports whether an id belongs to a live signalling socket.
type IdentitySource interface {
	Has(id string) bool
}

// Hub owns the rooms and serves /api/ws/room.
type Hub struct {
	opts       Options
	policy     Policy
	limiter    *RateLimiter
	metrics    *Metrics
	identities IdentitySource

	mu    sync.Mutex
	rooms map[domain.RoomName]*Room
}

func NewHub(opts Options, policy Policy, limiter *RateLimiter, metrics *Metrics) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		opts:    opts.withDefaults(),
		policy:  policy,
		limiter: limiter,
		metrics: metrics,
		rooms:   make(map[domain.RoomName]*Room),
	}
}

// BindIdentities makes joins require an id that src knows. Call it before
// serving.
func (h *Hub) BindIdentities(src IdentitySource) { h.identities = src }

func (h *Hub) List() []RoomInfo {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()
	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomInfo{Name: r.Name(), MemberCount: r.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (h *Hub) Room(name domain.RoomName) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[name]
	return r, ok
}

func (h *Hub) getOrCreate(name domain.RoomName) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[name]; ok {
		return r
	}
	r := newRoom(name)
	h.rooms[name] = r
	h.metrics.rooms.Inc()
	log.Info().Str("module", "relay.hub").Str("room", string(name)).Msg("room created")
	return r
}

func (h *Hub) removeIfEmpty(r *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 || r.dead {
		return
	}
	r.dead = true
	if h.rooms[r.name] == r {
		delete(h.rooms, r.name)
		h.metrics.rooms.Dec()
	}
	log.Info().Str("module", "relay.hub").Str("room", string(r.name)).Msg("room removed")
}

// HandleRoom upgrades the request and serves one room socket until it closes.
func (h *Hub) HandleRoom(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay.hub").Msg("ws upgrade")
		return
	}
	conn := newConn(ws, h.opts.SendBuffer)
	s := &roomSession{hub: h, conn: conn, sid: sid}
	log.Info().Str("module", "relay.hub").Str("sid", sid).Msg("room socket open")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go conn.writePump(ctx, "relay.hub", h.opts.PingPeriod)
	conn.readPump(ctx, "relay.hub", h.opts, s.handle)
	s.leave()
	log.Info().Str("module", "relay.hub").Str("sid", sid).Msg("room socket closed")
}

func (h *Hub) apply(r *Room, res PublishResult) {
	if len(res.Dropped) == 0 {
		return
	}
	h.metrics.dropped.Add(float64(len(res.Dropped)))
	for _, id := range res.Dropped {
		if h.policy.OnBackPressure(r, id) != KickMember {
			continue
		}
		if conn, ok := r.connOf(id); ok {
			log.Warn().Str("module", "relay.hub").Str("room", string(r.name)).Str("peer", id).Msg("kicking slow member")
			h.metrics.kicked.Inc()
			conn.Close()
		}
	}
}

// roomSession is the per-socket state. It is only touched by the socket's
// read goroutine.
type roomSession struct {
	hub  *Hub
	conn *Conn
	sid  string
	room *Room
	self *member
}

func (s *roomSession) handle(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "relay.hub").Str("sid", s.sid).Msg("bad json")
		s.fail(protocol.ErrCodeBadPayload, "")
		return
	}
	s.hub.metrics.relayed.WithLabelValues(env.Type).Inc()
	switch env.Type {
	case protocol.TypeJoin:
		s.handleJoin(env)
	case protocol.TypeUpdate:
		s.handleUpdate(env)
	case protocol.TypeCallIntention:
		s.handleCallIntention(env)
	case protocol.TypeCallAllowed:
		s.forward(env)
	case protocol.TypePing:
		_ = s.conn.SendJSON(protocol.Envelope{Type: protocol.TypePong})
	default:
		log.Warn().Str("module", "relay.hub").Str("type", env.Type).Msg("unknown message")
	}
}

func (s *roomSession) handleJoin(env protocol.Envelope) {
	if env.Node == nil || env.Node.Validate() != nil {
		s.fail(protocol.ErrCodeBadPayload, "")
		return
	}
	name, err := domain.NormalizeRoom(string(env.Room))
	if err != nil {
		s.fail(protocol.ErrCodeBadPayload, "")
		return
	}
	if h := s.hub; h.identities != nil && !h.identities.Has(env.Node.ID) {
		log.Warn().Str("module", "relay.hub").Str("sid", s.sid).Str("peer", env.Node.ID).Msg("join with unknown identity")
		s.fail(protocol.ErrCodeUnknownIdentity, "")
		return
	}
	s.leave()

	m := &member{id: env.Node.ID, sid: s.sid, conn: s.conn, state: *env.Node}
	for {
		r := s.hub.getOrCreate(name)
		replaced, res, ok := r.join(m)
		if !ok {
			continue
		}
		s.room, s.self = r, m
		s.hub.metrics.members.Inc()
		if replaced != nil {
			if replaced.sid != m.sid {
				log.Warn().Str("module", "relay.hub").Str("peer", m.id).Str("sid", m.sid).Str("replaced_sid", replaced.sid).Msg("id taken over by another client")
			} else {
				log.Info().Str("module", "relay.hub").Str("peer", m.id).Msg("id rejoined from a new socket")
			}
			replaced.conn.Close()
			s.hub.metrics.members.Dec()
		}
		s.hub.apply(r, res)
		return
	}
}

func (s *roomSession) handleUpdate(env protocol.Envelope) {
	if s.self == nil {
		s.fail(protocol.ErrCodeNotInRoom, "")
		return
	}
	if env.Node == nil || env.Node.Validate() != nil {
		s.fail(protocol.ErrCodeBadPayload, "")
		return
	}
	res, err := s.room.update(s.self, *env.Node)
	if err != nil {
		s.fail(protocol.ErrCodeNotInRoom, "")
		return
	}
	s.hub.apply(s.room, res)
}

func (s *roomSession) handleCallIntention(env protocol.Envelope) {
	if s.self == nil {
		s.fail(protocol.ErrCodeNotInRoom, "")
		return
	}
	if !s.hub.limiter.Allow(s.self.id) {
		s.hub.metrics.rateLimited.Inc()
		log.Warn().Str("module", "relay.hub").Str("peer", s.self.id).Msg("call intention rate limited")
		s.fail(protocol.ErrCodeRateLimited, env.To)
		return
	}
	s.forward(env)
}

// forward relays env to env.To in the sender's room with From stamped.
func (s *roomSession) forward(env protocol.Envelope) {
	if s.self == nil {
		s.fail(protocol.ErrCodeNotInRoom, "")
		return
	}
	out := protocol.Envelope{Type: env.Type, Room: s.room.name, From: s.self.id, To: env.To}
	found, err := s.room.sendTo(env.To, out)
	if !found {
		s.fail(protocol.ErrCodeUnknownPeer, env.To)
		return
	}
	if err != nil {
		s.hub.apply(s.room, PublishResult{Dropped: []string{env.To}})
	}
}

func (s *roomSession) leave() {
	if s.self == nil {
		return
	}
	r, m := s.room, s.self
	s.room, s.self = nil, nil
	removed, empty, res := r.leave(m)
	if removed {
		s.hub.metrics.members.Dec()
		s.hub.limiter.Forget(m.id)
	}
	s.hub.apply(r, res)
	if empty {
		s.hub.removeIfEmpty(r)
	}
}

func (s *roomSession) fail(code, to string) {
	_ = s.conn.SendJSON(protocol.Envelope{Type: protocol.TypeError, Error: code, To: to})
}
