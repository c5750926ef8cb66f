package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/proximity/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Switchboard serves /api/ws/signal. Every socket gets a fresh id and can
// address any other socket by id; the relay only routes.
type Switchboard struct {
	opts    Options
	metrics *Metrics

	mu    sync.RWMutex
	peers map[string]*Conn
}

func NewSwitchboard(opts Options, metrics *Metrics) *Switchboard {
	return &Switchboard{
		opts:    opts.withDefaults(),
		metrics: metrics,
		peers:   make(map[string]*Conn),
	}
}

func (sb *Switchboard) Has(id string) bool {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	_, ok := sb.peers[id]
	return ok
}

func (sb *Switchboard) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay.signal").Msg("ws upgrade")
		return
	}
	conn := newConn(ws, sb.opts.SendBuffer)
	id := uuid.NewString()

	sb.mu.Lock()
	sb.peers[id] = conn
	sb.mu.Unlock()
	sb.metrics.signalPeers.Inc()
	log.Info().Str("module", "relay.signal").Str("peer", id).Str("sid", c.GetString("client_token")).Msg("identity open")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go conn.writePump(ctx, "relay.signal", sb.opts.PingPeriod)
	_ = conn.SendJSON(protocol.Signal{Type: protocol.TypeOpen, ID: id})
	conn.readPump(ctx, "relay.signal", sb.opts, func(data []byte) { sb.route(id, conn, data) })

	sb.mu.Lock()
	if sb.peers[id] == conn {
		delete(sb.peers, id)
	}
	sb.mu.Unlock()
	sb.metrics.signalPeers.Dec()
	log.Info().Str("module", "relay.signal").Str("peer", id).Msg("identity released")
}

func (sb *Switchboard) route(from string, conn *Conn, data []byte) {
	var msg protocol.Signal
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "relay.signal").Str("peer", from).Msg("bad json")
		_ = conn.SendJSON(protocol.Signal{Type: protocol.TypeError, Error: protocol.ErrCodeBadPayload})
		return
	}
	switch msg.Type {
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate, protocol.TypeClose:
	default:
		log.Warn().Str("module", "relay.signal").Str("type", msg.Type).Msg("unknown signal")
		return
	}
	sb.metrics.signals.WithLabelValues(msg.Type).Inc()

	sb.mu.RLock()
	target, ok := sb.peers[msg.To]
	sb.mu.RUnlock()
	if !ok || msg.To == from {
		sb.metrics.unknownPeers.Inc()
		_ = conn.SendJSON(protocol.Signal{Type: protocol.TypeError, Error: protocol.ErrCodeUnknownPeer, To: msg.To, Call: msg.Call})
		return
	}
	msg.From = from
	if err := target.SendJSON(msg); err != nil {
		log.Warn().Err(err).Str("module", "relay.signal").Str("peer", msg.To).Msg("signal dropped")
	}
}
