// Package topology decides which remote peers should be in a call with self,
// from positions alone.
//
// A pair in range for the whole debounce window becomes "ongoing" and self
// sends a call intention. The remote answers with call_allowed and self
// dials. When both sides sent intentions the smaller id dials, unless no
// call_allowed reached it within one debounce window of its own intention;
// then it grants instead. A rejected or unsent intention re-arms the
// debounce. Teardown on leaving range is immediate.
package topology

import (
	"sort"
	"time"

	"github.com/dkeye/proximity/internal/eventloop"
	"github.com/dkeye/proximity/internal/presence"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDistance = 200.0
	DefaultDebounce = 500 * time.Millisecond
)

// Caller is the media side of a pair.
type Caller interface {
	MakeCall(id string) error
	CloseCallWith(id string)
	HasCall(id string) bool
}

// Signaller carries the collision-avoidance handshake over the relay.
type Signaller interface {
	SendCallIntention(to string) error
	SendCallAllowed(to string) error
}

type Config struct {
	Distance float64
	Debounce time.Duration
}

type pair struct {
	timer      eventloop.Timer
	ongoing    bool
	intentSent bool
	intentAt   time.Time
	// grant fires when a collided remote intention has waited a full window.
	grant eventloop.Timer
	unsub func()
}

// Controller must only be used from the executor.
type Controller struct {
	cfg    Config
	ex     eventloop.Executor
	reg    *presence.Registry
	caller Caller
	sig    Signaller

	pairs  map[string]*pair
	unsubs []func()
}

func New(cfg Config, ex eventloop.Executor, reg *presence.Registry, caller Caller, sig Signaller) *Controller {
	if cfg.Distance <= 0 {
		cfg.Distance = DefaultDistance
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	c := &Controller{
		cfg:    cfg,
		ex:     ex,
		reg:    reg,
		caller: caller,
		sig:    sig,
		pairs:  make(map[string]*pair),
	}
	c.unsubs = append(c.unsubs,
		reg.Self().Subscribe(presence.EventPosition, func(*presence.Node) { c.evaluateAll() }),
		reg.OnAdded(c.track),
		reg.OnDeleted(c.untrack),
	)
	for _, n := range reg.Others() {
		c.track(n)
	}
	return c
}

// Ongoing reports whether the pair with id passed the debounce window.
func (c *Controller) Ongoing(id string) bool {
	p, ok := c.pairs[id]
	return ok && p.ongoing
}

// Pending reports whether a debounce timer is armed for id.
func (c *Controller) Pending(id string) bool {
	p, ok := c.pairs[id]
	return ok && p.timer != nil
}

// HandleCallIntention grants a remote's request to dial us. When self has
// an intention of its own in flight and holds the smaller id, the grant is
// held back until that intention is one debounce window old.
func (c *Controller) HandleCallIntention(from string) {
	p, ok := c.pairs[from]
	if !ok {
		log.Warn().Str("module", "topology").Str("peer", from).Msg("intention from unknown peer")
		return
	}
	if p.intentSent && c.reg.Self().ID() < from {
		wait := c.cfg.Debounce - c.ex.Now().Sub(p.intentAt)
		if wait > 0 {
			log.Debug().Str("module", "topology").Str("peer", from).Dur("wait", wait).Msg("intention collision: we dial")
			if p.grant == nil {
				p.grant = c.ex.AfterFunc(wait, func() { c.grantLate(from, p) })
			}
			return
		}
		log.Debug().Str("module", "topology").Str("peer", from).Msg("own intention unanswered, granting")
	}
	c.allow(from, p)
}

func (c *Controller) allow(id string, p *pair) {
	c.stopTimer(p)
	c.stopGrant(p)
	p.ongoing = true
	p.intentSent = false
	if err := c.sig.SendCallAllowed(id); err != nil {
		log.Warn().Err(err).Str("module", "topology").Str("peer", id).Msg("call_allowed not sent")
	}
}

// grantLate answers a held-back remote intention once ours went unanswered.
func (c *Controller) grantLate(id string, p *pair) {
	if c.pairs[id] != p {
		return
	}
	p.grant = nil
	if !p.intentSent || !c.inRange(id) || c.caller.HasCall(id) {
		return
	}
	log.Info().Str("module", "topology").Str("peer", id).Msg("no call_allowed within window, granting")
	c.allow(id, p)
}

// HandleIntentionRejected runs when the relay bounced a message addressed to
// id. A pending intention is dropped and the debounce starts over.
func (c *Controller) HandleIntentionRejected(id, code string) {
	p, ok := c.pairs[id]
	if !ok || !p.intentSent {
		return
	}
	log.Warn().Str("module", "topology").Str("peer", id).Str("code", code).Msg("call_intention rejected")
	c.retry(id, p)
}

func (c *Controller) retry(id string, p *pair) {
	c.stopGrant(p)
	p.ongoing = false
	p.intentSent = false
	c.evaluate(id)
}

// HandleCallAllowed dials a remote that granted our intention.
func (c *Controller) HandleCallAllowed(from string) {
	p, ok := c.pairs[from]
	if !ok || !p.ongoing {
		log.Debug().Str("module", "topology").Str("peer", from).Msg("stale call_allowed")
		return
	}
	p.intentSent = false
	c.stopGrant(p)
	if c.caller.HasCall(from) {
		return
	}
	if err := c.caller.MakeCall(from); err != nil {
		log.Warn().Err(err).Str("module", "topology").Str("peer", from).Msg("call not started")
	}
}

func (c *Controller) Close() {
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil
	for id, p := range c.pairs {
		c.stopTimer(p)
		c.stopGrant(p)
		p.unsub()
		delete(c.pairs, id)
	}
}

func (c *Controller) track(n *presence.Node) {
	if c.reg.IsSelf(n) {
		return
	}
	if _, ok := c.pairs[n.ID()]; ok {
		return
	}
	id := n.ID()
	p := &pair{}
	p.unsub = n.Subscribe(presence.EventPosition, func(*presence.Node) { c.evaluate(id) })
	c.pairs[id] = p
	c.evaluate(id)
}

func (c *Controller) untrack(n *presence.Node) {
	id := n.ID()
	p, ok := c.pairs[id]
	if !ok {
		return
	}
	delete(c.pairs, id)
	c.stopTimer(p)
	c.stopGrant(p)
	p.unsub()
	if p.ongoing || c.caller.HasCall(id) {
		c.caller.CloseCallWith(id)
	}
}

func (c *Controller) evaluateAll() {
	ids := make([]string, 0, len(c.pairs))
	for id := range c.pairs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c.evaluate(id)
	}
}

func (c *Controller) evaluate(id string) {
	p, ok := c.pairs[id]
	if !ok {
		return
	}
	if c.inRange(id) {
		if p.timer == nil && !p.ongoing {
			p.timer = c.ex.AfterFunc(c.cfg.Debounce, func() { c.fire(id, p) })
		}
		return
	}
	c.stopTimer(p)
	c.stopGrant(p)
	wasOngoing := p.ongoing
	p.ongoing = false
	p.intentSent = false
	if wasOngoing || c.caller.HasCall(id) {
		log.Debug().Str("module", "topology").Str("peer", id).Msg("out of range, closing")
		c.caller.CloseCallWith(id)
	}
}

func (c *Controller) fire(id string, p *pair) {
	if c.pairs[id] != p {
		return
	}
	p.timer = nil
	if !c.inRange(id) {
		return
	}
	p.ongoing = true
	if c.caller.HasCall(id) {
		return
	}
	p.intentSent = true
	p.intentAt = c.ex.Now()
	if err := c.sig.SendCallIntention(id); err != nil {
		log.Warn().Err(err).Str("module", "topology").Str("peer", id).Msg("call_intention not sent")
		c.retry(id, p)
	}
}

func (c *Controller) inRange(id string) bool {
	n, ok := c.reg.Get(id)
	if !ok {
		return false
	}
	return c.reg.Self().Position().Dist(n.Position()) <= c.cfg.Distance
}

func (c *Controller) stopTimer(p *pair) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (c *Controller) stopGrant(p *pair) {
	if p.grant != nil {
		p.grant.Stop()
		p.grant = nil
	}
}
