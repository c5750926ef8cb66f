// Package media owns the peer media sessions of the local participant.
//
// Broker keeps at most one session per remote id, redials dropped outbound
// sessions with backoff and swaps the local stream when mic, camera or
// screen share change. Broker state lives on the event loop; collaborator
// callbacks may arrive from any goroutine and are posted back.
package media

import (
	"context"
	"errors"

	"github.com/dkeye/proximity/internal/presence"
)

var (
	ErrNotConnected = errors.New("media identity not connected")
	ErrCallExists   = errors.New("call already exists")
	ErrUnknownPeer  = errors.New("peer not present")
	ErrNoDevice     = errors.New("media device unavailable")
	ErrBusy         = errors.New("local media change in progress")
	ErrClosed       = errors.New("broker closed")
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// LocalTrack is one captured source.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	Stop()
}

// RemoteStream is inbound media, attached to the remote's presence node.
type RemoteStream = presence.Stream

// Conn is one negotiated media session with a remote peer. Handlers may be
// invoked from any goroutine.
type Conn interface {
	Peer() string
	Answer(stream *LocalStream) error
	// ReplaceTrack swaps the outbound track of the same kind in place.
	// It fails when the session has no sender of that kind.
	ReplaceTrack(t LocalTrack) error
	Close() error
	OnStream(func(RemoteStream))
	OnClose(func())
	OnError(func(error))
}

// Identity is the local endpoint on the signalling server.
type Identity interface {
	ID() string
	Call(remote string, stream *LocalStream) (Conn, error)
	OnCall(func(Conn))
	Close() error
}

// Connector allocates an Identity. Connect blocks.
type Connector interface {
	Connect(ctx context.Context) (Identity, error)
}

// Devices acquires local capture streams. All methods block.
type Devices interface {
	Audio(ctx context.Context) (*LocalStream, error)
	AudioVideo(ctx context.Context) (*LocalStream, error)
	Screen(ctx context.Context) (*LocalStream, error)
}

// Directory is the read side of the presence registry used by the broker.
type Directory interface {
	Get(id string) (*presence.Node, bool)
	OnAdded(fn func(*presence.Node)) func()
	OnDeleted(fn func(*presence.Node)) func()
}

// LocalMedia is the indicator state published after every local change.
type LocalMedia struct {
	Stream  *LocalStream
	Muted   bool
	Camera  bool
	Sharing bool
}
