package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/proximity/internal/media"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

var ErrTrackStopped = errors.New("track stopped")

var (
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	// vp8Frame is an opaque placeholder payload.
	vp8Frame = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}
)

// Track is a local sample track. Disabled tracks drop written samples.
type Track struct {
	local *webrtc.TrackLocalStaticSample
	kind  media.TrackKind

	enabled  atomic.Bool
	stopped  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

func NewTrack(kind media.TrackKind, label, streamID string) (*Track, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == media.KindVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	local, err := webrtc.NewTrackLocalStaticSample(codec, label+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{local: local, kind: kind, done: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) ID() string                            { return t.local.ID() }
func (t *Track) Kind() media.TrackKind                 { return t.kind }
func (t *Track) Enabled() bool                         { return t.enabled.Load() }
func (t *Track) SetEnabled(v bool)                     { t.enabled.Store(v) }
func (t *Track) Local() *webrtc.TrackLocalStaticSample { return t.local }
func (t *Track) Done() <-chan struct{}                 { return t.done }
func (t *Track) Stopped() bool                         { return t.stopped.Load() }

func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		close(t.done)
	})
}

// WriteSample forwards s unless the track is disabled or stopped.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if t.stopped.Load() {
		return ErrTrackStopped
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}

// Devices produces synthetic capture streams paced by a clock.
type Devices struct {
	Clock clock.Clock
}

func (d Devices) clock() clock.Clock {
	if d.Clock == nil {
		return clock.New()
	}
	return d.Clock
}

func (d Devices) Audio(ctx context.Context) (*media.LocalStream, error) {
	return d.capture(ctx, "mic", media.KindAudio)
}

func (d Devices) AudioVideo(ctx context.Context) (*media.LocalStream, error) {
	return d.capture(ctx, "cam", media.KindAudio, media.KindVideo)
}

func (d Devices) Screen(ctx context.Context) (*media.LocalStream, error) {
	return d.capture(ctx, "screen", media.KindVideo)
}

func (d Devices) capture(ctx context.Context, label string, kinds ...media.TrackKind) (*media.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := label + "-" + uuid.NewString()
	stream := media.NewLocalStream(streamID)
	for _, k := range kinds {
		t, err := NewTrack(k, label, streamID)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.AddTrack(t)
		go d.pump(t)
	}
	return stream, nil
}

func (d Devices) pump(t *Track) {
	interval, frame := 20*time.Millisecond, opusSilence
	if t.kind == media.KindVideo {
		interval, frame = 33*time.Millisecond, vp8Frame
	}
	ticker := d.clock().Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.WriteSample(pionmedia.Sample{Data: frame, Duration: interval}); err != nil {
				return
			}
		}
	}
}
