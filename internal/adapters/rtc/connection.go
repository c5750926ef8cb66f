// Package rtc implements the media collaborators on pion/webrtc: peer
// connections, the signalling identity and synthetic capture devices.
package rtc

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/proximity/internal/media"
	"github.com/dkeye/proximity/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSender         = errors.New("no sender for track kind")
	ErrForeignTrack     = errors.New("track not created by rtc devices")
	ErrPeerUnavailable  = errors.New("remote identity unavailable")
	ErrConnectionFailed = errors.New("peer connection failed")
	ErrNoPendingOffer   = errors.New("no pending offer to answer")
	ErrConnectionClosed = errors.New("peer connection closed")
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Conn is one peer connection keyed by call id. Remote streams, close and
// error notifications that happen before a handler is installed are
// replayed when it is.
type Conn struct {
	call string
	peer string
	pc   *webrtc.PeerConnection
	send func(protocol.Signal) error
	// release unregisters the call from its identity.
	release func()

	mu         sync.Mutex
	senders    map[media.TrackKind]*webrtc.RTPSender
	offer      *webrtc.SessionDescription
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
	streams    map[string]*RemoteStream
	order      []*RemoteStream
	onStream   func(media.RemoteStream)
	onClose    func()
	onError    func(error)
	finished   bool
	failure    error

	closing atomic.Bool
}

func newConn(api *webrtc.API, cfg webrtc.Configuration, call, peer string, send func(protocol.Signal) error) (*Conn, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		call:    call,
		peer:    peer,
		pc:      pc,
		send:    send,
		senders: make(map[media.TrackKind]*webrtc.RTPSender),
		streams: make(map[string]*RemoteStream),
	}
	c.start()
	return c, nil
}

func (c *Conn) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "rtc").Str("call", c.call).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("call", c.call).Str("peer", c.peer).Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			go c.finish(ErrConnectionFailed, true)
		case webrtc.PeerConnectionStateClosed:
			go c.finish(nil, false)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		if err := c.send(protocol.Signal{Type: protocol.TypeCandidate, Candidate: &ci}); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("call", c.call).Msg("send candidate")
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("call", c.call).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.gotTrack(track)
	})
}

func (c *Conn) gotTrack(track *webrtc.TrackRemote) {
	c.mu.Lock()
	s, ok := c.streams[track.StreamID()]
	if !ok {
		s = newRemoteStream(track.StreamID())
		c.streams[s.id] = s
		c.order = append(c.order, s)
	}
	s.addTrack(track)
	fn := c.onStream
	c.mu.Unlock()

	go s.consume(track)
	if fn != nil {
		fn(s)
	}
}

func (c *Conn) Peer() string { return c.peer }
func (c *Conn) Call() string { return c.call }

// Negotiated reports whether the remote description has been applied.
func (c *Conn) Negotiated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSet
}

func (c *Conn) OnStream(fn func(media.RemoteStream)) {
	c.mu.Lock()
	c.onStream = fn
	pending := make([]*RemoteStream, len(c.order))
	copy(pending, c.order)
	c.mu.Unlock()
	if fn == nil {
		return
	}
	for _, s := range pending {
		fn(s)
	}
}

func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	replay := c.finished && c.failure == nil
	c.mu.Unlock()
	if replay && fn != nil {
		fn()
	}
}

func (c *Conn) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	replay := c.finished && c.failure != nil
	err := c.failure
	c.mu.Unlock()
	if replay && fn != nil {
		fn(err)
	}
}

// addStream attaches stream's tracks and a recvonly transceiver for every
// kind the stream lacks, so the remote side can always send both.
func (c *Conn) addStream(stream *media.LocalStream) error {
	have := map[media.TrackKind]bool{}
	if stream != nil {
		for _, t := range stream.Tracks() {
			rt, ok := t.(*Track)
			if !ok {
				return ErrForeignTrack
			}
			sender, err := c.pc.AddTrack(rt.Local())
			if err != nil {
				return err
			}
			go drainRTCP(sender)
			c.mu.Lock()
			c.senders[rt.Kind()] = sender
			c.mu.Unlock()
			have[rt.Kind()] = true
		}
	}
	for kind, codec := range map[media.TrackKind]webrtc.RTPCodecType{
		media.KindAudio: webrtc.RTPCodecTypeAudio,
		media.KindVideo: webrtc.RTPCodecTypeVideo,
	} {
		if have[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(codec, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// dial creates and sends the offer for an outbound call.
func (c *Conn) dial(stream *media.LocalStream) error {
	if err := c.addStream(stream); err != nil {
		return err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return c.send(protocol.Signal{Type: protocol.TypeOffer, SDP: offer.SDP})
}

// Answer accepts the pending inbound offer with stream as the local media.
func (c *Conn) Answer(stream *media.LocalStream) error {
	c.mu.Lock()
	offer := c.offer
	c.offer = nil
	c.mu.Unlock()
	if offer == nil {
		return ErrNoPendingOffer
	}
	if err := c.pc.SetRemoteDescription(*offer); err != nil {
		return err
	}
	if err := c.addStream(stream); err != nil {
		return err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	if err := c.send(protocol.Signal{Type: protocol.TypeAnswer, SDP: answer.SDP}); err != nil {
		return err
	}
	c.remoteApplied()
	return nil
}

func (c *Conn) ReplaceTrack(t media.LocalTrack) error {
	rt, ok := t.(*Track)
	if !ok {
		return ErrForeignTrack
	}
	c.mu.Lock()
	sender := c.senders[t.Kind()]
	c.mu.Unlock()
	if sender == nil {
		return ErrNoSender
	}
	return sender.ReplaceTrack(rt.Local())
}

// Close tears the connection down and tells the remote side.
func (c *Conn) Close() error {
	c.finish(nil, true)
	return nil
}

// handle applies a signal addressed to this call.
func (c *Conn) handle(msg protocol.Signal) {
	switch msg.Type {
	case protocol.TypeAnswer:
		if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("call", c.call).Msg("apply answer")
			c.finish(err, true)
			return
		}
		c.remoteApplied()
	case protocol.TypeCandidate:
		if msg.Candidate == nil {
			return
		}
		c.mu.Lock()
		if !c.remoteSet {
			c.candidates = append(c.candidates, *msg.Candidate)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		if err := c.pc.AddICECandidate(*msg.Candidate); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("call", c.call).Msg("add candidate")
		}
	case protocol.TypeClose:
		c.finish(nil, false)
	case protocol.TypeError:
		c.finish(ErrPeerUnavailable, false)
	}
}

func (c *Conn) remoteApplied() {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.candidates
	c.candidates = nil
	c.mu.Unlock()
	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("call", c.call).Msg("add buffered candidate")
		}
	}
}

// finish runs once. A nil err reports a clean close, otherwise the error
// handler fires instead.
func (c *Conn) finish(err error, notifyRemote bool) {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	if notifyRemote {
		_ = c.send(protocol.Signal{Type: protocol.TypeClose})
	}
	if c.release != nil {
		c.release()
	}
	if cerr := c.pc.Close(); cerr != nil {
		log.Error().Err(cerr).Str("module", "rtc").Str("call", c.call).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("call", c.call).Str("peer", c.peer).Msg("closed")
	}

	c.mu.Lock()
	c.finished = true
	c.failure = err
	onClose, onError := c.onClose, c.onError
	c.mu.Unlock()

	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	if onClose != nil {
		onClose()
	}
}
