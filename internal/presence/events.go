package presence

// EventKind names a node-scoped change notification.
type EventKind int

const (
	EventPosition EventKind = iota
	EventNickname
	EventColor
	EventStream
	// EventUpdated follows every scoped event.
	EventUpdated
	// EventRemoved fires once when the node leaves its registry.
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventPosition:
		return "position"
	case EventNickname:
		return "nickname"
	case EventColor:
		return "color"
	case EventStream:
		return "stream"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

type listener[T any] struct {
	token uint64
	fn    func(T)
}

// listeners is an ordered handler list. Dispatch iterates a copy, so handlers
// may subscribe or unsubscribe while it runs.
type listeners[T any] struct {
	next uint64
	list []listener[T]
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.next++
	token := l.next
	l.list = append(l.list, listener[T]{token: token, fn: fn})
	return func() { l.remove(token) }
}

func (l *listeners[T]) remove(token uint64) {
	for i, h := range l.list {
		if h.token == token {
			l.list = append(l.list[:i:i], l.list[i+1:]...)
			return
		}
	}
}

func (l *listeners[T]) emit(v T) {
	snapshot := make([]listener[T], len(l.list))
	copy(snapshot, l.list)
	for _, h := range snapshot {
		if !l.live(h.token) {
			continue
		}
		h.fn(v)
	}
}

func (l *listeners[T]) live(token uint64) bool {
	for _, h := range l.list {
		if h.token == token {
			return true
		}
	}
	return false
}

func (l *listeners[T]) len() int { return len(l.list) }

func (l *listeners[T]) clear() { l.list = nil }
