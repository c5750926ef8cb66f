package media

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// OnLocalMedia registers the indicator callback. It runs on the executor.
func (b *Broker) OnLocalMedia(fn func(LocalMedia)) { b.onLocal = fn }

func (b *Broker) LocalMedia() LocalMedia {
	return LocalMedia{Stream: b.local, Muted: b.muted, Camera: b.camera, Sharing: b.sharing}
}

// ToggleMic flips the enabled state of every local audio track and returns
// whether the mic is now muted.
func (b *Broker) ToggleMic() bool {
	b.muted = !b.muted
	b.applyMute()
	b.publish()
	return b.muted
}

// ToggleCamera enables or disables the existing video track in place. With
// no video track a new audio+video stream is captured and every session is
// renegotiated. During a screen share only the camera flag flips; it decides
// whether stopping the share restores the camera.
func (b *Broker) ToggleCamera(ctx context.Context, done func(error)) {
	if b.sharing {
		if b.closed {
			done(ErrClosed)
			return
		}
		if b.changing {
			done(ErrBusy)
			return
		}
		b.camera = !b.camera
		b.publish()
		done(nil)
		return
	}
	if b.local != nil {
		if video := b.local.VideoTracks(); len(video) > 0 {
			b.camera = !b.camera
			for _, t := range video {
				t.SetEnabled(b.camera)
			}
			b.publish()
			done(nil)
			return
		}
	}
	b.acquire(ctx, b.devices.AudioVideo, func(next *LocalStream) {
		b.camera = true
		b.sharing = false
		b.swapLocal(next)
	}, done)
}

// ToggleScreenShare substitutes a captured screen for the outbound video.
// Stopping the share restores the camera when it was on.
func (b *Broker) ToggleScreenShare(ctx context.Context, done func(error)) {
	if !b.sharing {
		b.acquire(ctx, b.devices.Screen, func(screen *LocalStream) {
			b.sharing = true
			b.swapLocal(b.combine(screen.ID(), screen.VideoTracks()))
		}, done)
		return
	}
	if b.camera {
		b.acquire(ctx, b.devices.AudioVideo, func(cam *LocalStream) {
			for _, t := range cam.AudioTracks() {
				t.Stop()
			}
			b.sharing = false
			b.swapLocal(b.combine(cam.ID(), cam.VideoTracks()))
		}, done)
		return
	}
	if b.closed {
		done(ErrClosed)
		return
	}
	if b.changing {
		done(ErrBusy)
		return
	}
	b.sharing = false
	id := ""
	if b.local != nil {
		id = b.local.ID()
	}
	b.swapLocal(b.combine(id, nil))
	b.publish()
	done(nil)
}

// combine keeps the current audio tracks and pairs them with video.
func (b *Broker) combine(id string, video []LocalTrack) *LocalStream {
	next := NewLocalStream(id)
	if b.local != nil {
		for _, t := range b.local.AudioTracks() {
			next.AddTrack(t)
		}
	}
	for _, t := range video {
		next.AddTrack(t)
	}
	return next
}

func (b *Broker) acquire(ctx context.Context, get func(context.Context) (*LocalStream, error), apply func(*LocalStream), done func(error)) {
	if b.closed {
		done(ErrClosed)
		return
	}
	if b.changing {
		done(ErrBusy)
		return
	}
	b.changing = true
	b.ex.Go(func() {
		st, err := get(ctx)
		b.ex.Post(func() {
			b.changing = false
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Msg("device capture failed")
				done(fmt.Errorf("%w: %w", ErrNoDevice, err))
				return
			}
			if b.closed {
				st.Stop()
				done(ErrClosed)
				return
			}
			apply(st)
			b.publish()
			done(nil)
		})
	})
}

// swapLocal installs next as the outbound stream. Sessions keep their
// senders when the set of track kinds is unchanged; otherwise every session
// is closed and redialled.
func (b *Broker) swapLocal(next *LocalStream) {
	old := b.local
	b.local = next
	b.applyMute()
	if len(b.sessions) > 0 {
		if old != nil && sameKinds(old, next) {
			b.replaceTracks(next)
		} else {
			b.renegotiate()
		}
	}
	if old != nil {
		for _, t := range old.Tracks() {
			if !next.Has(t) {
				t.Stop()
			}
		}
	}
}

func (b *Broker) replaceTracks(next *LocalStream) {
	var stale []string
	for _, id := range b.Peers() {
		s := b.sessions[id]
		for _, t := range next.Tracks() {
			if err := s.conn.ReplaceTrack(t); err != nil {
				log.Debug().Err(err).Str("module", "media").Str("peer", id).Msg("replace track failed")
				stale = append(stale, id)
				break
			}
		}
	}
	for _, id := range stale {
		b.redial(id)
	}
}

func (b *Broker) renegotiate() {
	log.Info().Str("module", "media").Int("sessions", len(b.sessions)).Msg("renegotiating")
	for _, id := range b.Peers() {
		b.redial(id)
	}
}

func (b *Broker) redial(id string) {
	if s, ok := b.sessions[id]; ok {
		b.closeSession(s)
	}
	if b.identity == nil {
		return
	}
	if _, ok := b.dir.Get(id); !ok {
		return
	}
	b.dial(id, b.cfg.BackoffInitial)
}

func (b *Broker) applyMute() {
	if b.local == nil {
		return
	}
	for _, t := range b.local.AudioTracks() {
		t.SetEnabled(!b.muted)
	}
}

func (b *Broker) publish() {
	if b.onLocal != nil {
		b.onLocal(b.LocalMedia())
	}
}
