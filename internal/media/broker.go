package media

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dkeye/proximity/internal/eventloop"
	"github.com/dkeye/proximity/internal/presence"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBackoffInitial  = 100 * time.Millisecond
	DefaultBackoffMax      = 10 * time.Second
	DefaultErrorBackoffCap = time.Second
)

type Config struct {
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	ErrorBackoffCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.ErrorBackoffCap <= 0 {
		c.ErrorBackoffCap = DefaultErrorBackoffCap
	}
	return c
}

// Delays returns the wait before the next redial and the backoff carried to
// the attempt after it.
func (c Config) Delays(backoff time.Duration, failed bool) (delay, next time.Duration) {
	delay = backoff
	if failed && delay > c.ErrorBackoffCap {
		delay = c.ErrorBackoffCap
	}
	if delay > c.BackoffMax {
		delay = c.BackoffMax
	}
	next = delay * 2
	if next > c.BackoffMax {
		next = c.BackoffMax
	}
	return delay, next
}

type identityResult struct {
	ident  Identity
	stream *LocalStream
}

// Broker maps remote ids to media sessions. Every method must be called on
// the executor.
type Broker struct {
	cfg       Config
	ex        eventloop.Executor
	dir       Directory
	connector Connector
	devices   Devices

	flight   singleflight.Group
	identity Identity
	sessions map[string]*Session
	retries  map[string]eventloop.Timer

	local    *LocalStream
	muted    bool
	camera   bool
	sharing  bool
	changing bool
	onLocal  func(LocalMedia)

	unsubs []func()
	closed bool
}

func NewBroker(cfg Config, ex eventloop.Executor, dir Directory, connector Connector, devices Devices) *Broker {
	b := &Broker{
		cfg:       cfg.withDefaults(),
		ex:        ex,
		dir:       dir,
		connector: connector,
		devices:   devices,
		sessions:  make(map[string]*Session),
		retries:   make(map[string]eventloop.Timer),
	}
	b.unsubs = append(b.unsubs,
		dir.OnDeleted(b.forget),
		dir.OnAdded(b.reattach),
	)
	return b
}

// Init closes every session and (re)connects the media identity. Calls made
// while a connect is in flight share it. done runs on the executor.
func (b *Broker) Init(ctx context.Context, done func(id string, err error)) {
	if b.closed {
		done("", ErrClosed)
		return
	}
	b.closeAll()
	needStream := b.local == nil
	b.ex.Go(func() {
		v, err, shared := b.flight.Do("identity", func() (any, error) {
			return b.connect(ctx, needStream)
		})
		b.ex.Post(func() {
			if err != nil {
				log.Error().Err(err).Str("module", "media").Msg("identity connect failed")
				done("", err)
				return
			}
			if !b.adopt(v.(identityResult)) {
				done("", ErrClosed)
				return
			}
			log.Info().Str("module", "media").Str("self", b.identity.ID()).Bool("shared", shared).Msg("identity ready")
			done(b.identity.ID(), nil)
		})
	})
}

func (b *Broker) connect(ctx context.Context, needStream bool) (identityResult, error) {
	var res identityResult
	if needStream {
		st, err := b.devices.Audio(ctx)
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrNoDevice, err)
		}
		res.stream = st
	}
	ident, err := b.connector.Connect(ctx)
	if err != nil {
		if res.stream != nil {
			res.stream.Stop()
		}
		return res, fmt.Errorf("connect identity: %w", err)
	}
	res.ident = ident
	return res, nil
}

func (b *Broker) adopt(res identityResult) bool {
	if b.closed {
		_ = res.ident.Close()
		if res.stream != nil {
			res.stream.Stop()
		}
		return false
	}
	if res.stream != nil && res.stream != b.local {
		if b.local == nil {
			b.local = res.stream
			b.applyMute()
			b.publish()
		} else {
			res.stream.Stop()
		}
	}
	if res.ident == b.identity {
		return true
	}
	old := b.identity
	ident := res.ident
	b.identity = ident
	ident.OnCall(func(c Conn) {
		b.ex.Post(func() { b.incoming(ident, c) })
	})
	if old != nil {
		_ = old.Close()
	}
	return true
}

// MakeCall dials id. It fails without side effects if a session for id
// exists or id is not a known node.
func (b *Broker) MakeCall(id string) error {
	if b.closed {
		return ErrClosed
	}
	if b.identity == nil {
		return ErrNotConnected
	}
	if _, ok := b.sessions[id]; ok {
		log.Warn().Str("module", "media").Str("peer", id).Msg("call already exists")
		return ErrCallExists
	}
	if _, ok := b.dir.Get(id); !ok {
		log.Warn().Str("module", "media").Str("peer", id).Msg("call to unknown peer")
		return ErrUnknownPeer
	}
	b.cancelRetry(id)
	b.dial(id, b.cfg.BackoffInitial)
	return nil
}

// CloseCallWith tears down the session with id for good.
func (b *Broker) CloseCallWith(id string) {
	b.cancelRetry(id)
	if s, ok := b.sessions[id]; ok {
		b.closeSession(s)
	}
}

func (b *Broker) HasCall(id string) bool {
	_, ok := b.sessions[id]
	return ok
}

func (b *Broker) Session(id string) (*Session, bool) {
	s, ok := b.sessions[id]
	return s, ok
}

// Peers returns the ids with a session, sorted.
func (b *Broker) Peers() []string {
	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connected reports whether an identity is held.
func (b *Broker) Connected() bool { return b.identity != nil }

// IdentityID is the id of the held identity, or "".
func (b *Broker) IdentityID() string {
	if b.identity == nil {
		return ""
	}
	return b.identity.ID()
}

func (b *Broker) Close() {
	if b.closed {
		return
	}
	b.closeAll()
	b.closed = true
	for _, u := range b.unsubs {
		u()
	}
	b.unsubs = nil
	if b.identity != nil {
		_ = b.identity.Close()
		b.identity = nil
	}
	if b.local != nil {
		b.local.Stop()
	}
}

func (b *Broker) dial(id string, backoff time.Duration) {
	s := newSession(id, true, backoff)
	b.sessions[id] = s
	conn, err := b.identity.Call(id, b.local)
	if err != nil {
		b.ended(s, err)
		return
	}
	s.conn = conn
	b.attach(s)
}

func (b *Broker) incoming(ident Identity, c Conn) {
	if b.closed || ident != b.identity {
		_ = c.Close()
		return
	}
	peer := c.Peer()
	b.cancelRetry(peer)
	if old, ok := b.sessions[peer]; ok {
		log.Debug().Str("module", "media").Str("peer", peer).Msg("inbound call replaces session")
		b.closeSession(old)
	}
	s := newSession(peer, false, b.cfg.BackoffInitial)
	s.conn = c
	b.sessions[peer] = s
	b.attach(s)
	if err := c.Answer(b.local); err != nil {
		b.ended(s, err)
	}
}

func (b *Broker) attach(s *Session) {
	s.conn.OnStream(func(rs RemoteStream) {
		b.ex.Post(func() { b.gotStream(s, rs) })
	})
	s.conn.OnClose(func() {
		b.ex.Post(func() { b.ended(s, nil) })
	})
	s.conn.OnError(func(err error) {
		b.ex.Post(func() { b.ended(s, err) })
	})
}

// gotStream ignores repeated delivery of the same stream.
func (b *Broker) gotStream(s *Session, rs RemoteStream) {
	if s.closed() || b.sessions[s.peer] != s || s.stream == rs {
		return
	}
	s.stream = rs
	s.activate()
	if n, ok := b.dir.Get(s.peer); ok {
		n.SetMediaStream(rs)
	}
}

func (b *Broker) reattach(n *presence.Node) {
	if s, ok := b.sessions[n.ID()]; ok && s.stream != nil {
		n.SetMediaStream(s.stream)
	}
}

// ended handles a close or error reported by the connection.
func (b *Broker) ended(s *Session, err error) {
	if !s.close() {
		return
	}
	if b.sessions[s.peer] == s {
		delete(b.sessions, s.peer)
	}
	b.detachStream(s)
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("module", "media").Str("peer", s.peer).Bool("outbound", s.outbound).Msg("session ended")
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.outbound && !s.explicit && !b.closed {
		b.scheduleRetry(s, err)
	}
}

func (b *Broker) closeSession(s *Session) {
	s.explicit = true
	if !s.close() {
		return
	}
	if b.sessions[s.peer] == s {
		delete(b.sessions, s.peer)
	}
	b.detachStream(s)
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// forget runs after n left the directory, so detachStream cannot find it.
func (b *Broker) forget(n *presence.Node) {
	b.CloseCallWith(n.ID())
	if n.MediaStream() != nil {
		n.SetMediaStream(nil)
	}
}

func (b *Broker) detachStream(s *Session) {
	if s.stream == nil {
		return
	}
	if n, ok := b.dir.Get(s.peer); ok && n.MediaStream() == s.stream {
		n.SetMediaStream(nil)
	}
}

func (b *Broker) scheduleRetry(s *Session, err error) {
	if s.retryScheduled {
		return
	}
	s.retryScheduled = true
	peer := s.peer
	if _, ok := b.dir.Get(peer); !ok {
		log.Debug().Str("module", "media").Str("peer", peer).Msg("peer gone, no redial")
		return
	}
	delay, next := b.cfg.Delays(s.backoff, err != nil)
	b.cancelRetry(peer)
	var t eventloop.Timer
	t = b.ex.AfterFunc(delay, func() {
		if b.retries[peer] != t {
			return
		}
		delete(b.retries, peer)
		if b.closed || b.identity == nil {
			return
		}
		if _, ok := b.sessions[peer]; ok {
			return
		}
		if _, ok := b.dir.Get(peer); !ok {
			return
		}
		log.Debug().Str("module", "media").Str("peer", peer).Dur("backoff", next).Msg("redial")
		b.dial(peer, next)
	})
	b.retries[peer] = t
	log.Debug().Str("module", "media").Str("peer", peer).Dur("delay", delay).Msg("redial scheduled")
}

func (b *Broker) cancelRetry(id string) {
	if t, ok := b.retries[id]; ok {
		t.Stop()
		delete(b.retries, id)
	}
}

func (b *Broker) closeAll() {
	for id := range b.retries {
		b.cancelRetry(id)
	}
	for _, id := range b.Peers() {
		b.closeSession(b.sessions[id])
	}
}
