package rtc

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/proximity/internal/media"
	"github.com/dkeye/proximity/internal/protocol"
	"github.com/dkeye/proximity/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevices() Devices { return Devices{Clock: clock.NewMock()} }

func testAPI(t *testing.T) *webrtc.API {
	t.Helper()
	api, err := NewAPI(webrtc.SettingEngine{})
	require.NoError(t, err)
	return api
}

func quietConn(t *testing.T) *Conn {
	t.Helper()
	c, err := newConn(testAPI(t), webrtc.Configuration{}, "call-1", "peer-1", func(protocol.Signal) error { return nil })
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTrack_EnabledGatesSamples(t *testing.T) {
	tr, err := NewTrack(media.KindAudio, "mic", "s1")
	require.NoError(t, err)
	assert.True(t, tr.Enabled())
	assert.Equal(t, media.KindAudio, tr.Kind())

	sample := pionmedia.Sample{Data: opusSilence, Duration: 20 * time.Millisecond}
	require.NoError(t, tr.WriteSample(sample))

	tr.SetEnabled(false)
	require.NoError(t, tr.WriteSample(sample))

	tr.Stop()
	tr.Stop()
	assert.True(t, tr.Stopped())
	assert.ErrorIs(t, tr.WriteSample(sample), ErrTrackStopped)
}

func TestDevices_Kinds(t *testing.T) {
	d := testDevices()
	ctx := context.Background()

	audio, err := d.Audio(ctx)
	require.NoError(t, err)
	assert.True(t, audio.HasKind(media.KindAudio))
	assert.False(t, audio.HasKind(media.KindVideo))

	cam, err := d.AudioVideo(ctx)
	require.NoError(t, err)
	assert.True(t, cam.HasKind(media.KindAudio))
	assert.True(t, cam.HasKind(media.KindVideo))

	screen, err := d.Screen(ctx)
	require.NoError(t, err)
	assert.False(t, screen.HasKind(media.KindAudio))
	assert.True(t, screen.HasKind(media.KindVideo))

	for _, s := range []*media.LocalStream{audio, cam, screen} {
		s.Stop()
		for _, tr := range s.Tracks() {
			assert.True(t, tr.(*Track).Stopped())
		}
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = d.Audio(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemoteStream_Observe(t *testing.T) {
	s := newRemoteStream("remote")
	s.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 7}, Payload: []byte{1, 2, 3}})
	s.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 8}, Payload: []byte{4}})

	assert.Equal(t, "remote", s.StreamID())
	assert.EqualValues(t, 2, s.Packets())
	assert.EqualValues(t, 4, s.Bytes())
	assert.EqualValues(t, 8, s.lastSeq.Load())
}

func TestConn_ReplaceTrack(t *testing.T) {
	c := quietConn(t)
	audio, err := testDevices().Audio(context.Background())
	require.NoError(t, err)
	defer audio.Stop()
	require.NoError(t, c.addStream(audio))

	mic, err := NewTrack(media.KindAudio, "mic", "s2")
	require.NoError(t, err)
	assert.NoError(t, c.ReplaceTrack(mic))

	video, err := NewTrack(media.KindVideo, "cam", "s2")
	require.NoError(t, err)
	assert.ErrorIs(t, c.ReplaceTrack(video), ErrNoSender)
}

type otherTrack struct{ media.LocalTrack }

func (otherTrack) Kind() media.TrackKind { return media.KindAudio }

func TestConn_RejectsForeignTracks(t *testing.T) {
	c := quietConn(t)
	assert.ErrorIs(t, c.ReplaceTrack(otherTrack{}), ErrForeignTrack)
	assert.ErrorIs(t, c.addStream(media.NewLocalStream("x", otherTrack{})), ErrForeignTrack)
}

func TestConn_AnswerWithoutOffer(t *testing.T) {
	c := quietConn(t)
	assert.ErrorIs(t, c.Answer(nil), ErrNoPendingOffer)
}

func TestConn_ReplaysTerminalEvents(t *testing.T) {
	var sent []protocol.Signal
	c, err := newConn(testAPI(t), webrtc.Configuration{}, "call", "peer", func(s protocol.Signal) error {
		sent = append(sent, s)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	var closes int
	c.OnClose(func() { closes++ })
	c.OnError(func(error) { t.Fatal("clean close reported as error") })
	assert.Equal(t, 1, closes)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.TypeClose, sent[0].Type)

	failed := quietConn(t)
	failed.handle(protocol.Signal{Type: protocol.TypeError, Error: protocol.ErrCodeUnknownPeer})
	var got error
	failed.OnError(func(err error) { got = err })
	assert.ErrorIs(t, got, ErrPeerUnavailable)
}

func TestConn_BuffersCandidatesUntilRemote(t *testing.T) {
	c := quietConn(t)
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"}
	c.handle(protocol.Signal{Type: protocol.TypeCandidate, Candidate: &cand})

	c.mu.Lock()
	assert.Len(t, c.candidates, 1)
	c.mu.Unlock()
	assert.False(t, c.Negotiated())
}

func signalServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	sb := relay.NewSwitchboard(relay.Options{}, relay.NewMetrics(prometheus.NewRegistry()))
	r := gin.New()
	r.GET("/signal", func(c *gin.Context) { sb.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/signal"
}

func connect(t *testing.T, url string) *Identity {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := Connector{URL: url}.Connect(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = id.Close() })
	return id.(*Identity)
}

func TestIdentity_NegotiatesThroughSwitchboard(t *testing.T) {
	url := signalServer(t)
	alice, bob := connect(t, url), connect(t, url)
	require.NotEqual(t, alice.ID(), bob.ID())

	calls := make(chan media.Conn, 1)
	bob.OnCall(func(c media.Conn) { calls <- c })

	devices := testDevices()
	aliceStream, err := devices.Audio(context.Background())
	require.NoError(t, err)
	defer aliceStream.Stop()
	bobStream, err := devices.AudioVideo(context.Background())
	require.NoError(t, err)
	defer bobStream.Stop()

	out, err := alice.Call(bob.ID(), aliceStream)
	require.NoError(t, err)
	assert.Equal(t, bob.ID(), out.Peer())

	var in media.Conn
	select {
	case in = <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("offer never reached callee")
	}
	assert.Equal(t, alice.ID(), in.Peer())
	require.NoError(t, in.Answer(bobStream))

	require.Eventually(t, out.(*Conn).Negotiated, 5*time.Second, 10*time.Millisecond)

	var closed atomic.Bool
	in.OnClose(func() { closed.Store(true) })
	require.NoError(t, out.Close())
	require.Eventually(t, closed.Load, 5*time.Second, 10*time.Millisecond)
	assert.Nil(t, bob.lookup(in.(*Conn).Call()))
}

func TestIdentity_UnknownPeerFailsCall(t *testing.T) {
	alice := connect(t, signalServer(t))
	stream, err := testDevices().Audio(context.Background())
	require.NoError(t, err)
	defer stream.Stop()

	c, err := alice.Call("nobody", stream)
	require.NoError(t, err)

	failed := make(chan error, 1)
	c.OnError(func(err error) { failed <- err })
	select {
	case err := <-failed:
		assert.ErrorIs(t, err, ErrPeerUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("call to unknown identity never failed")
	}
}

func TestIdentity_CloseEndsCalls(t *testing.T) {
	url := signalServer(t)
	alice, bob := connect(t, url), connect(t, url)
	bob.OnCall(func(media.Conn) {})

	c, err := alice.Call(bob.ID(), nil)
	require.NoError(t, err)
	var closed atomic.Bool
	c.OnClose(func() { closed.Store(true) })

	require.NoError(t, alice.Close())
	assert.True(t, closed.Load())
	<-alice.Done()
	_, err = alice.Call(bob.ID(), nil)
	assert.Error(t, err)
}
