// Package app composes the headless proximity peer.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/proximity/internal/adapters/rtc"
	"github.com/dkeye/proximity/internal/channel"
	"github.com/dkeye/proximity/internal/config"
	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/eventloop"
	"github.com/dkeye/proximity/internal/ice"
	"github.com/dkeye/proximity/internal/media"
	"github.com/dkeye/proximity/internal/presence"
	"github.com/dkeye/proximity/internal/session"
	"github.com/dkeye/proximity/internal/topology"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Room     domain.RoomName
	Nickname string
	Color    string
	Start    domain.Vec2
	Video    bool

	Endpoints      Endpoints
	UpdateInterval time.Duration
	ReconnectDelay time.Duration
	Topology       topology.Config
	Media          media.Config
	Clock          clock.Clock
}

// Endpoints are the relay URLs a peer talks to.
type Endpoints struct {
	Room   string
	Signal string
	ICE    string
}

// ParseEndpoints derives the socket and ICE URLs from the relay base URL.
func ParseEndpoints(base string) (Endpoints, error) {
	u, err := url.Parse(base)
	if err != nil {
		return Endpoints{}, fmt.Errorf("relay url: %w", err)
	}
	ws := *u
	switch u.Scheme {
	case "http", "ws":
		ws.Scheme = "ws"
	case "https", "wss":
		ws.Scheme = "wss"
	default:
		return Endpoints{}, fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	httpURL := *u
	httpURL.Scheme = strings.Replace(ws.Scheme, "ws", "http", 1)
	root := strings.TrimSuffix(u.Path, "/")

	ws.Path = root + "/api/ws/room"
	room := ws.String()
	ws.Path = root + "/api/ws/signal"
	signal := ws.String()
	httpURL.Path = root + "/ice"
	return Endpoints{Room: room, Signal: signal, ICE: httpURL.String()}, nil
}

// ConfigFrom maps the peer section of the config file.
func ConfigFrom(pc config.PeerConfig) (Config, error) {
	room, err := domain.NormalizeRoom(pc.Room)
	if err != nil {
		return Config{}, err
	}
	ep, err := ParseEndpoints(pc.RelayURL)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Room:           room,
		Nickname:       pc.Nickname,
		Color:          pc.Color,
		Video:          pc.Video,
		Endpoints:      ep,
		UpdateInterval: pc.UpdateInterval,
		ReconnectDelay: pc.ReconnectDelay,
		Topology:       topology.Config{Distance: pc.CallDistance, Debounce: pc.CallDebounce},
		Media: media.Config{
			BackoffInitial:  pc.BackoffInitial,
			BackoffMax:      pc.BackoffMax,
			ErrorBackoffCap: pc.BackoffErrorCap,
		},
	}, nil
}

// Build fetches the relay's ICE list and wires a pion-backed peer.
func Build(ctx context.Context, cfg Config) *Peer {
	client := &http.Client{Timeout: 5 * time.Second}
	servers := ice.Filter(ice.Fetch(ctx, client, cfg.Endpoints.ICE))
	log.Info().Str("module", "app").Int("ice_servers", len(servers)).Msg("ice list loaded")

	connector := rtc.Connector{
		URL:    cfg.Endpoints.Signal,
		Config: webrtc.Configuration{ICEServers: ice.ToWebRTC(servers)},
	}
	return New(cfg, connector, rtc.Devices{Clock: cfg.Clock})
}

// Peer is one participant: registry, room channel, synchronizer, media
// broker and call topology on a single event loop.
type Peer struct {
	cfg    Config
	loop   *eventloop.Loop
	reg    *presence.Registry
	client *channel.Client
	sync   *session.Synchronizer
	broker *media.Broker
	topo   *topology.Controller

	ctx     context.Context
	closing bool
}

func New(cfg Config, connector media.Connector, devices media.Devices) *Peer {
	if cfg.Color == "" {
		cfg.Color = domain.RandomColor(100)
	}
	p := &Peer{cfg: cfg, loop: eventloop.New(cfg.Clock), ctx: context.Background()}

	// The provisional id is replaced by the identity id on first connect.
	self := presence.NewNode("local-" + uuid.NewString())
	self.Apply(domain.NewNodeState(self.ID(), cfg.Nickname, cfg.Color, cfg.Start))
	p.reg = presence.NewRegistry(self)

	p.broker = media.NewBroker(cfg.Media, p.loop, p.reg, watchedConnector{Connector: connector, lost: p.identityLost}, devices)
	p.client = channel.New(channel.Config{
		URL:      cfg.Endpoints.Room,
		Room:     cfg.Room,
		RetryMin: cfg.ReconnectDelay,
		Clock:    cfg.Clock,
	}, p.loop, channel.Events{
		OnConnect:       func() { p.sync.HandleConnect(p.ctx) },
		OnDisconnect:    func() { p.sync.HandleDisconnect() },
		OnInit:          func(nodes map[string]domain.NodeState) { p.sync.HandleInit(nodes) },
		OnUpdate:        func(st domain.NodeState) { p.sync.HandleUpdate(st) },
		OnPeerLeft:      func(id string) { p.sync.HandlePeerLeft(id) },
		OnCallIntention: func(from string) { p.topo.HandleCallIntention(from) },
		OnCallAllowed:   func(from string) { p.topo.HandleCallAllowed(from) },
		OnRelayError:    func(code, to string) { p.topo.HandleIntentionRejected(to, code) },
	}, func() string { return p.reg.Self().ID() })
	p.sync = session.New(session.Config{Room: cfg.Room, Interval: cfg.UpdateInterval}, p.loop, p.reg, p.client, p)
	p.sync.OnError(func(err error) {
		log.Error().Err(err).Str("module", "app").Msg("media identity unavailable")
	})
	p.topo = topology.New(cfg.Topology, p.loop, p.reg, p.broker, p.client)

	p.reg.OnAdded(p.watchCalls)
	return p
}

// Init connects the media identity and, on the first success with video
// configured, turns the camera on. It satisfies session.Identity.
func (p *Peer) Init(ctx context.Context, done func(id string, err error)) {
	p.broker.Init(ctx, func(id string, err error) {
		if err == nil && p.cfg.Video && !p.broker.LocalMedia().Camera {
			p.broker.ToggleCamera(ctx, func(err error) {
				if err != nil {
					log.Warn().Err(err).Str("module", "app").Msg("camera not started")
				}
			})
		}
		done(id, err)
	})
}

func (p *Peer) watchCalls(n *presence.Node) {
	n.Subscribe(presence.EventStream, func(n *presence.Node) {
		if s := n.MediaStream(); s != nil {
			log.Info().Str("module", "app").Str("peer", n.ID()).Str("nickname", n.Nickname()).Str("stream", s.StreamID()).Msg("call started")
			return
		}
		log.Info().Str("module", "app").Str("peer", n.ID()).Str("nickname", n.Nickname()).Msg("call ended")
	})
}

// identityLost runs when the signalling socket drops under a live identity.
func (p *Peer) identityLost(id string) {
	p.loop.Post(func() {
		if p.closing || p.broker.IdentityID() != id {
			return
		}
		log.Warn().Str("module", "app").Str("self", id).Msg("media identity lost, reconnecting")
		p.sync.HandleConnect(p.ctx)
	})
}

// Run serves the peer until ctx is done.
func (p *Peer) Run(ctx context.Context) error {
	p.ctx = ctx
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.loop.Run(gctx) })
	g.Go(func() error { return p.client.Run(gctx) })
	err := g.Wait()

	// The loop has stopped; teardown runs on this goroutine.
	p.closing = true
	p.topo.Close()
	p.sync.Close()
	p.broker.Close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Do runs fn on the peer's loop and waits for it.
func (p *Peer) Do(ctx context.Context, fn func(*View)) error {
	return p.loop.Call(ctx, func() { fn(&View{p: p}) })
}

// MoveTo sets the local position.
func (p *Peer) MoveTo(pos domain.Vec2) {
	p.loop.Post(func() { p.reg.Self().SetPosition(pos) })
}

func (p *Peer) SetNickname(name string) {
	p.loop.Post(func() { p.reg.Self().SetNickname(name) })
}

// View exposes loop-owned state inside Do.
type View struct{ p *Peer }

func (v *View) Self() *presence.Node           { return v.p.reg.Self() }
func (v *View) Registry() *presence.Registry   { return v.p.reg }
func (v *View) Broker() *media.Broker          { return v.p.broker }
func (v *View) Topology() *topology.Controller { return v.p.topo }

// watchedConnector reports identities whose signalling socket closes.
type watchedConnector struct {
	media.Connector
	lost func(id string)
}

func (w watchedConnector) Connect(ctx context.Context) (media.Identity, error) {
	ident, err := w.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if d, ok := ident.(interface{ Done() <-chan struct{} }); ok {
		go func() {
			<-d.Done()
			w.lost(ident.ID())
		}()
	}
	return ident, nil
}
