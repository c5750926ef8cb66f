package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

type fakeTrack struct {
	id      string
	kind    TrackKind
	enabled bool
	stopped bool
}

func newTrack(id string, kind TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string        { return t.id }
func (t *fakeTrack) Kind() TrackKind   { return t.kind }
func (t *fakeTrack) Enabled() bool     { return t.enabled }
func (t *fakeTrack) SetEnabled(v bool) { t.enabled = v }
func (t *fakeTrack) Stop()             { t.stopped = true }

type remote struct{ id string }

func (r *remote) StreamID() string { return r.id }

var errNoSender = errors.New("no sender")

type fakeConn struct {
	peer     string
	answered *LocalStream
	offered  *LocalStream
	replaced []LocalTrack
	closes   int

	onStream func(RemoteStream)
	onClose  func()
	onError  func(error)
}

func (c *fakeConn) Peer() string { return c.peer }

func (c *fakeConn) Answer(s *LocalStream) error {
	c.answered = s
	return nil
}

func (c *fakeConn) ReplaceTrack(t LocalTrack) error {
	stream := c.offered
	if stream == nil {
		stream = c.answered
	}
	if stream == nil || !stream.HasKind(t.Kind()) {
		return errNoSender
	}
	c.replaced = append(c.replaced, t)
	return nil
}

func (c *fakeConn) Close() error {
	c.closes++
	if c.closes == 1 && c.onClose != nil {
		c.onClose()
	}
	return nil
}

func (c *fakeConn) OnStream(fn func(RemoteStream)) { c.onStream = fn }
func (c *fakeConn) OnClose(fn func())              { c.onClose = fn }
func (c *fakeConn) OnError(fn func(error))         { c.onError = fn }

type fakeIdentity struct {
	id      string
	calls   []*fakeConn
	callErr error
	onCall  func(Conn)
	closed  bool
}

func (i *fakeIdentity) ID() string { return i.id }

func (i *fakeIdentity) Call(remote string, stream *LocalStream) (Conn, error) {
	if i.callErr != nil {
		return nil, i.callErr
	}
	c := &fakeConn{peer: remote, offered: stream}
	i.calls = append(i.calls, c)
	return c, nil
}

func (i *fakeIdentity) OnCall(fn func(Conn)) { i.onCall = fn }

func (i *fakeIdentity) Close() error {
	i.closed = true
	return nil
}

func (i *fakeIdentity) lastCall() *fakeConn {
	if len(i.calls) == 0 {
		return nil
	}
	return i.calls[len(i.calls)-1]
}

type fakeConnector struct {
	mu      sync.Mutex
	count   atomic.Int32
	gate    chan struct{}
	entered chan struct{}
	err     error
	made    []*fakeIdentity
}

func (c *fakeConnector) Connect(ctx context.Context) (Identity, error) {
	n := c.count.Add(1)
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	ident := &fakeIdentity{id: fmt.Sprintf("self-%d", n)}
	c.mu.Lock()
	c.made = append(c.made, ident)
	c.mu.Unlock()
	return ident, nil
}

type fakeDevices struct {
	seq      int
	audioErr error
	captured []*LocalStream
}

func (d *fakeDevices) next(prefix string, kinds ...TrackKind) *LocalStream {
	d.seq++
	s := NewLocalStream(fmt.Sprintf("%s-%d", prefix, d.seq))
	for _, k := range kinds {
		s.AddTrack(newTrack(fmt.Sprintf("%s-%d-%s", prefix, d.seq, k), k))
	}
	d.captured = append(d.captured, s)
	return s
}

func (d *fakeDevices) Audio(context.Context) (*LocalStream, error) {
	if d.audioErr != nil {
		return nil, d.audioErr
	}
	return d.next("mic", KindAudio), nil
}

func (d *fakeDevices) AudioVideo(context.Context) (*LocalStream, error) {
	return d.next("cam", KindAudio, KindVideo), nil
}

func (d *fakeDevices) Screen(context.Context) (*LocalStream, error) {
	return d.next("screen", KindVideo), nil
}
