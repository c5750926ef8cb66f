package relay

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/protocol"
	"github.com/rs/zerolog/log"
)

type member struct {
	id    string
	sid   string
	conn  *Conn
	state domain.NodeState
}

// PublishResult reports delivery stats to the hub.
type PublishResult struct {
	SentTo  int
	Dropped []string
}

func (p *PublishResult) merge(o PublishResult) {
	p.SentTo += o.SentTo
	p.Dropped = append(p.Dropped, o.Dropped...)
}

// Room is a threadsafe membership set. It never closes connections.
type Room struct {
	name    domain.RoomName
	mu      sync.RWMutex
	members map[string]*member
	dead    bool
}

func newRoom(name domain.RoomName) *Room {
	return &Room{name: name, members: make(map[string]*member)}
}

func (r *Room) Name() domain.RoomName { return r.name }

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Snapshot returns the stored state of every member.
func (r *Room) Snapshot() map[string]domain.NodeState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() map[string]domain.NodeState {
	out := make(map[string]domain.NodeState, len(r.members))
	for id, m := range r.members {
		out[id] = m.state
	}
	return out
}

// join adds m, queues the init snapshot to it and the update to everyone
// else under one lock so nothing can slip between them. A previous member
// with the same id is returned so the caller can disconnect it.
func (r *Room) join(m *member) (replaced *member, res PublishResult, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return nil, res, false
	}
	if old, exists := r.members[m.id]; exists && old != m {
		replaced = old
	}
	r.members[m.id] = m
	init := protocol.Envelope{Type: protocol.TypeInit, Room: r.name, Nodes: r.snapshotLocked()}
	if err := m.conn.SendJSON(init); err != nil {
		res.Dropped = append(res.Dropped, m.id)
	}
	st := m.state
	res.merge(r.broadcastLocked(m.id, protocol.Envelope{Type: protocol.TypeUpdate, Room: r.name, Node: &st}))
	log.Info().Str("module", "relay.room").Str("room", string(r.name)).Str("peer", m.id).Int("members", len(r.members)).Msg("member joined")
	return replaced, res, true
}

// leave removes m if it is still the member for its id and reports whether
// it was removed and whether the room is now empty.
func (r *Room) leave(m *member) (removed, empty bool, res PublishResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.members[m.id]; !ok || cur != m {
		return false, len(r.members) == 0, res
	}
	delete(r.members, m.id)
	res = r.broadcastLocked(m.id, protocol.Envelope{Type: protocol.TypePeerLeft, Room: r.name, ID: m.id})
	log.Info().Str("module", "relay.room").Str("room", string(r.name)).Str("peer", m.id).Int("members", len(r.members)).Msg("member left")
	return true, len(r.members) == 0, res
}

// update merges the present fields of st into m's stored state and fans the
// full state out.
func (r *Room) update(m *member, st domain.NodeState) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.members[m.id]; !ok || cur != m {
		return PublishResult{}, ErrRoomNotJoined
	}
	if st.Pos != nil {
		m.state.Pos = st.Pos
	}
	if st.Nickname != nil {
		m.state.Nickname = st.Nickname
	}
	if st.Color != nil {
		m.state.Color = st.Color
	}
	full := m.state
	return r.broadcastLocked(m.id, protocol.Envelope{Type: protocol.TypeUpdate, Room: r.name, Node: &full}), nil
}

// sendTo delivers env to one member of the room.
func (r *Room) sendTo(to string, env protocol.Envelope) (found bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[to]
	if !ok {
		return false, nil
	}
	return true, m.conn.SendJSON(env)
}

func (r *Room) has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

func (r *Room) connOf(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return nil, false
	}
	return m.conn, true
}

func (r *Room) broadcastLocked(from string, env protocol.Envelope) PublishResult {
	res := PublishResult{}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay.room").Msg("broadcast marshal")
		return res
	}
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if id == from {
			continue
		}
		if err := r.members[id].conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "relay.room").Str("type", env.Type).Str("from", from).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
