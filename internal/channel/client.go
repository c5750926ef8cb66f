// Package channel is the peer side of the relay room socket.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/eventloop"
	"github.com/dkeye/proximity/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrNotConnected = errors.New("room socket not connected")
)

// Events are posted to the executor in arrival order.
type Events struct {
	OnConnect       func()
	OnDisconnect    func()
	OnInit          func(nodes map[string]domain.NodeState)
	OnUpdate        func(st domain.NodeState)
	OnPeerLeft      func(id string)
	OnCallIntention func(from string)
	OnCallAllowed   func(from string)
	// OnRelayError fires for errors about a message addressed to a peer.
	OnRelayError func(code, to string)
}

type Config struct {
	URL          string
	Header       http.Header
	Room         domain.RoomName
	SendBuffer   int
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	RetryMin     time.Duration
	RetryMax     time.Duration
	Dialer       *websocket.Dialer
	Clock        clock.Clock
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.RetryMin <= 0 {
		c.RetryMin = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// Client keeps one room socket open, redialling when it drops. Send methods
// are safe from any goroutine.
type Client struct {
	cfg  Config
	ex   eventloop.Executor
	ev   Events
	self func() string

	mu   sync.Mutex
	conn *wsConn
}

// New builds a client. self returns the current local id and is only called
// from the send methods.
func New(cfg Config, ex eventloop.Executor, ev Events, self func() string) *Client {
	return &Client{cfg: cfg.withDefaults(), ex: ex, ev: ev, self: self}
}

// Run dials and serves the socket until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.RetryMin
	for {
		ws, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if err == nil {
			backoff = c.cfg.RetryMin
			c.serve(ctx, ws)
		} else {
			log.Warn().Err(err).Str("module", "channel").Str("url", c.cfg.URL).Msg("dial failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		timer := c.cfg.Clock.Timer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > c.cfg.RetryMax {
			backoff = c.cfg.RetryMax
		}
	}
}

func (c *Client) serve(ctx context.Context, ws *websocket.Conn) {
	conn := &wsConn{ws: ws, send: make(chan []byte, c.cfg.SendBuffer)}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	log.Info().Str("module", "channel").Str("room", string(c.cfg.Room)).Msg("room socket open")
	c.post(c.ev.OnConnect)

	connCtx, cancel := context.WithCancel(ctx)
	go c.writePump(connCtx, conn)
	c.readPump(connCtx, conn)
	cancel()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
	log.Info().Str("module", "channel").Msg("room socket closed")
	c.post(c.ev.OnDisconnect)
}

func (c *Client) readPump(ctx context.Context, conn *wsConn) {
	deadline := 2 * c.cfg.PingPeriod
	_ = conn.ws.SetReadDeadline(time.Now().Add(deadline))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(deadline))
	})
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Str("module", "channel").Msg("read ended")
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(deadline))
		c.dispatch(data)
	}
}

func (c *Client) writePump(ctx context.Context, conn *wsConn) {
	ping := c.cfg.Clock.Ticker(c.cfg.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-conn.send:
			if !ok {
				return
			}
			_ = conn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "channel").Msg("write failed")
				conn.Close()
				return
			}
		case <-ping.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "channel").Msg("bad json")
		return
	}
	switch env.Type {
	case protocol.TypeInit:
		nodes := env.Nodes
		if nodes == nil {
			nodes = map[string]domain.NodeState{}
		}
		if c.ev.OnInit != nil {
			c.ex.Post(func() { c.ev.OnInit(nodes) })
		}
	case protocol.TypeUpdate:
		if env.Node == nil {
			return
		}
		st := *env.Node
		if c.ev.OnUpdate != nil {
			c.ex.Post(func() { c.ev.OnUpdate(st) })
		}
	case protocol.TypePeerLeft:
		c.postID(c.ev.OnPeerLeft, env.ID)
	case protocol.TypeCallIntention:
		c.postID(c.ev.OnCallIntention, env.From)
	case protocol.TypeCallAllowed:
		c.postID(c.ev.OnCallAllowed, env.From)
	case protocol.TypePong:
	case protocol.TypeError:
		log.Warn().Str("module", "channel").Str("code", env.Error).Str("to", env.To).Msg("relay error")
		if fn := c.ev.OnRelayError; fn != nil && env.To != "" {
			c.ex.Post(func() { fn(env.Error, env.To) })
		}
	default:
		log.Warn().Str("module", "channel").Str("type", env.Type).Msg("unknown message")
	}
}

func (c *Client) Join(room domain.RoomName, st domain.NodeState) error {
	return c.send(protocol.Envelope{Type: protocol.TypeJoin, Room: room, Node: &st})
}

func (c *Client) Update(room domain.RoomName, st domain.NodeState) error {
	return c.send(protocol.Envelope{Type: protocol.TypeUpdate, Room: room, Node: &st})
}

func (c *Client) SendCallIntention(to string) error {
	return c.send(protocol.Envelope{Type: protocol.TypeCallIntention, Room: c.cfg.Room, From: c.self(), To: to})
}

func (c *Client) SendCallAllowed(to string) error {
	return c.send(protocol.Envelope{Type: protocol.TypeCallAllowed, Room: c.cfg.Room, From: c.self(), To: to})
}

func (c *Client) send(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.TrySend(data)
}

func (c *Client) post(fn func()) {
	if fn != nil {
		c.ex.Post(fn)
	}
}

func (c *Client) postID(fn func(string), id string) {
	if fn == nil || id == "" {
		return
	}
	c.ex.Post(func() { fn(id) })
}

type wsConn struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrNotConnected
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
}
