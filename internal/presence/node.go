// Package presence holds the local view of who is in the room and where.
//
// Nodes and the Registry are not safe for concurrent use; they live on the
// peer's event loop.
package presence

import (
	"github.com/dkeye/proximity/internal/domain"
)

// Stream is an inbound media stream attached to a node.
type Stream interface {
	StreamID() string
}

// Node is one participant. Every setter emits its scoped event followed by
// EventUpdated.
type Node struct {
	id       string
	nickname string
	color    string
	pos      domain.Vec2
	stream   Stream

	subs map[EventKind]*listeners[*Node]
}

func NewNode(id string) *Node {
	return &Node{id: id, subs: make(map[EventKind]*listeners[*Node])}
}

func (n *Node) ID() string            { return n.id }
func (n *Node) Nickname() string      { return n.nickname }
func (n *Node) Color() string         { return n.color }
func (n *Node) Position() domain.Vec2 { return n.pos }
func (n *Node) MediaStream() Stream   { return n.stream }

// Subscribe registers fn for kind and returns the func that removes it.
func (n *Node) Subscribe(kind EventKind, fn func(*Node)) (unsubscribe func()) {
	l, ok := n.subs[kind]
	if !ok {
		l = &listeners[*Node]{}
		n.subs[kind] = l
	}
	return l.add(fn)
}

// ListenerCount reports registered handlers across all kinds.
func (n *Node) ListenerCount() int {
	total := 0
	for _, l := range n.subs {
		total += l.len()
	}
	return total
}

// SetPosition is a no-op when pos equals the current position.
func (n *Node) SetPosition(pos domain.Vec2) bool {
	if n.pos == pos {
		return false
	}
	n.pos = pos
	n.changed(EventPosition)
	return true
}

func (n *Node) SetNickname(nickname string) {
	n.nickname = nickname
	n.changed(EventNickname)
}

func (n *Node) SetColor(color string) {
	n.color = color
	n.changed(EventColor)
}

// SetMediaStream attaches or, with nil, clears the inbound stream.
func (n *Node) SetMediaStream(s Stream) {
	n.stream = s
	n.changed(EventStream)
}

// Apply copies the present fields of st. The id is never touched.
func (n *Node) Apply(st domain.NodeState) {
	if st.Pos != nil {
		n.SetPosition(*st.Pos)
	}
	if st.Nickname != nil {
		n.SetNickname(*st.Nickname)
	}
	if st.Color != nil {
		n.SetColor(*st.Color)
	}
}

// State is the full public snapshot of the node.
func (n *Node) State() domain.NodeState {
	return domain.NewNodeState(n.id, n.nickname, n.color, n.pos)
}

func (n *Node) changed(kind EventKind) {
	n.emit(kind)
	n.emit(EventUpdated)
}

func (n *Node) emit(kind EventKind) {
	if l, ok := n.subs[kind]; ok {
		l.emit(n)
	}
}

func (n *Node) dispose() {
	n.emit(EventRemoved)
	for _, l := range n.subs {
		l.clear()
	}
}
