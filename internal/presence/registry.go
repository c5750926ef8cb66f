package presence

import (
	"errors"
	"sort"

	"github.com/rs/zerolog/log"
)

var (
	ErrDuplicateID = errors.New("node id already present")
	ErrUnknownNode = errors.New("node not in registry")
)

// Registry is the ordered set of nodes in the room, including self.
type Registry struct {
	nodes []*Node
	byID  map[string]*Node
	self  *Node

	disconnected bool

	added   listeners[*Node]
	deleted listeners[*Node]
}

// NewRegistry creates a registry holding only self.
func NewRegistry(self *Node) *Registry {
	r := &Registry{byID: make(map[string]*Node)}
	r.self = self
	r.nodes = append(r.nodes, self)
	r.byID[self.ID()] = self
	return r
}

func (r *Registry) Self() *Node { return r.self }

func (r *Registry) IsSelf(n *Node) bool { return n != nil && n == r.self }

// Disconnected is true while the relay link is down; self updates are not
// propagated meanwhile.
func (r *Registry) Disconnected() bool     { return r.disconnected }
func (r *Registry) SetDisconnected(v bool) { r.disconnected = v }

// OnAdded registers fn for every node added after this call.
func (r *Registry) OnAdded(fn func(*Node)) (unsubscribe func()) { return r.added.add(fn) }

// OnDeleted registers fn for every node removed after this call.
func (r *Registry) OnDeleted(fn func(*Node)) (unsubscribe func()) { return r.deleted.add(fn) }

func (r *Registry) Add(n *Node) error {
	if _, ok := r.byID[n.ID()]; ok {
		log.Warn().Str("module", "presence").Str("peer", n.ID()).Msg("add rejected: duplicate id")
		return ErrDuplicateID
	}
	r.nodes = append(r.nodes, n)
	r.byID[n.ID()] = n
	r.added.emit(n)
	return nil
}

// Delete removes n and reports whether it was present. Self is never removed.
func (r *Registry) Delete(n *Node) bool {
	if n == nil {
		return false
	}
	if r.IsSelf(n) {
		log.Warn().Str("module", "presence").Str("peer", n.ID()).Msg("delete rejected: self node")
		return false
	}
	cur, ok := r.byID[n.ID()]
	if !ok || cur != n {
		return false
	}
	delete(r.byID, n.ID())
	for i, x := range r.nodes {
		if x == n {
			r.nodes = append(r.nodes[:i:i], r.nodes[i+1:]...)
			break
		}
	}
	n.dispose()
	r.deleted.emit(n)
	return true
}

func (r *Registry) Get(id string) (*Node, bool) {
	n, ok := r.byID[id]
	return n, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Rekey changes the id of a registered node in place. Listeners and the
// node's position in the ordering are kept.
func (r *Registry) Rekey(n *Node, newID string) error {
	if cur, ok := r.byID[n.ID()]; !ok || cur != n {
		return ErrUnknownNode
	}
	if n.ID() == newID {
		return nil
	}
	if _, taken := r.byID[newID]; taken {
		return ErrDuplicateID
	}
	delete(r.byID, n.ID())
	n.id = newID
	r.byID[newID] = n
	return nil
}

// Nodes returns a snapshot in insertion order.
func (r *Registry) Nodes() []*Node {
	out := make([]*Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Others returns a snapshot of every node except self.
func (r *Registry) Others() []*Node {
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n != r.self {
			out = append(out, n)
		}
	}
	return out
}

// IDs returns the ids sorted, for deterministic iteration.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int { return len(r.nodes) }
