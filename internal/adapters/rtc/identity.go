package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/proximity/internal/media"
	"github.com/dkeye/proximity/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnexpectedHello  = errors.New("signal server did not open an identity")
	ErrSendBackpressure = errors.New("signal send buffer full")
)

const (
	openTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	sendBuffer   = 256
)

// Connector opens identities on the relay's signalling socket.
type Connector struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
	Config webrtc.Configuration
	// API overrides the default pion API, e.g. to tune the setting engine.
	API *webrtc.API
}

func (cn Connector) Connect(ctx context.Context) (media.Identity, error) {
	dialer := cn.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, cn.URL, cn.Header)
	if err != nil {
		return nil, fmt.Errorf("dial signal: %w", err)
	}

	deadline := time.Now().Add(openTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	var hello protocol.Signal
	if err := ws.ReadJSON(&hello); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("read open: %w", err)
	}
	if hello.Type != protocol.TypeOpen || hello.ID == "" {
		_ = ws.Close()
		return nil, ErrUnexpectedHello
	}
	_ = ws.SetReadDeadline(time.Time{})

	api := cn.API
	if api == nil {
		if api, err = NewAPI(webrtc.SettingEngine{}); err != nil {
			_ = ws.Close()
			return nil, err
		}
	}
	id := &Identity{
		id:    hello.ID,
		ws:    ws,
		api:   api,
		cfg:   cn.Config,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		conns: make(map[string]*Conn),
	}
	go id.writePump()
	go id.readPump()
	log.Info().Str("module", "rtc").Str("identity", id.id).Msg("identity open")
	return id, nil
}

// Identity multiplexes peer connections over one signalling socket.
type Identity struct {
	id  string
	ws  *websocket.Conn
	api *webrtc.API
	cfg webrtc.Configuration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	conns  map[string]*Conn
	onCall func(media.Conn)
	closed bool
}

func (i *Identity) ID() string { return i.id }

func (i *Identity) OnCall(fn func(media.Conn)) {
	i.mu.Lock()
	i.onCall = fn
	i.mu.Unlock()
}

// Done is closed when the signalling socket is gone.
func (i *Identity) Done() <-chan struct{} { return i.done }

func (i *Identity) Call(remote string, stream *media.LocalStream) (media.Conn, error) {
	c, err := i.register(uuid.NewString(), remote)
	if err != nil {
		return nil, err
	}
	if err := c.dial(stream); err != nil {
		c.finish(nil, false)
		return nil, fmt.Errorf("dial %s: %w", remote, err)
	}
	return c, nil
}

func (i *Identity) register(call, remote string) (*Conn, error) {
	c, err := newConn(i.api, i.cfg, call, remote, func(s protocol.Signal) error {
		s.To, s.Call = remote, call
		return i.write(s)
	})
	if err != nil {
		return nil, err
	}
	c.release = func() { i.forget(call) }

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		c.release = nil
		c.finish(nil, false)
		return nil, ErrConnectionClosed
	}
	i.conns[call] = c
	i.mu.Unlock()
	return c, nil
}

func (i *Identity) forget(call string) {
	i.mu.Lock()
	delete(i.conns, call)
	i.mu.Unlock()
}

func (i *Identity) lookup(call string) *Conn {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.conns[call]
}

func (i *Identity) write(s protocol.Signal) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	select {
	case <-i.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case i.send <- data:
		return nil
	default:
		return ErrSendBackpressure
	}
}

func (i *Identity) writePump() {
	for {
		select {
		case <-i.done:
			return
		case data := <-i.send:
			_ = i.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := i.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "rtc").Str("identity", i.id).Msg("signal write")
				i.shutdown()
				return
			}
		}
	}
}

func (i *Identity) readPump() {
	defer i.shutdown()
	for {
		_, data, err := i.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "rtc").Str("identity", i.id).Msg("signal read")
			}
			return
		}
		var msg protocol.Signal
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("bad signal json")
			continue
		}
		i.dispatch(msg)
	}
}

func (i *Identity) dispatch(msg protocol.Signal) {
	if msg.Type == protocol.TypeOffer {
		i.incoming(msg)
		return
	}
	if msg.Call == "" {
		log.Warn().Str("module", "rtc").Str("type", msg.Type).Str("error", msg.Error).Msg("signal without call")
		return
	}
	c := i.lookup(msg.Call)
	if c == nil {
		log.Debug().Str("module", "rtc").Str("type", msg.Type).Str("call", msg.Call).Msg("signal for unknown call")
		return
	}
	c.handle(msg)
}

func (i *Identity) incoming(msg protocol.Signal) {
	if msg.Call == "" || msg.From == "" || i.lookup(msg.Call) != nil {
		return
	}
	c, err := i.register(msg.Call, msg.From)
	if err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("from", msg.From).Msg("accept offer")
		return
	}
	c.mu.Lock()
	c.offer = &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}
	c.mu.Unlock()

	i.mu.Lock()
	fn := i.onCall
	i.mu.Unlock()
	if fn == nil {
		_ = c.Close()
		return
	}
	log.Info().Str("module", "rtc").Str("call", msg.Call).Str("from", msg.From).Msg("incoming call")
	fn(c)
}

// Close releases the identity and every connection made through it.
func (i *Identity) Close() error {
	i.shutdown()
	return nil
}

func (i *Identity) shutdown() {
	i.closeOnce.Do(func() {
		i.mu.Lock()
		i.closed = true
		conns := make([]*Conn, 0, len(i.conns))
		for _, c := range i.conns {
			conns = append(conns, c)
		}
		i.mu.Unlock()

		for _, c := range conns {
			_ = c.Close()
		}
		close(i.done)
		_ = i.ws.Close()
		log.Info().Str("module", "rtc").Str("identity", i.id).Msg("identity closed")
	})
}
