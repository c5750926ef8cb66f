package media

// LocalStream is an ordered set of local tracks. It is owned by the Broker.
type LocalStream struct {
	id     string
	tracks []LocalTrack
}

func NewLocalStream(id string, tracks ...LocalTrack) *LocalStream {
	return &LocalStream{id: id, tracks: tracks}
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Tracks() []LocalTrack {
	out := make([]LocalTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *LocalStream) AudioTracks() []LocalTrack { return s.ofKind(KindAudio) }
func (s *LocalStream) VideoTracks() []LocalTrack { return s.ofKind(KindVideo) }

func (s *LocalStream) HasKind(k TrackKind) bool { return len(s.ofKind(k)) > 0 }

func (s *LocalStream) AddTrack(t LocalTrack) { s.tracks = append(s.tracks, t) }

func (s *LocalStream) Has(t LocalTrack) bool {
	for _, x := range s.tracks {
		if x == t {
			return true
		}
	}
	return false
}

func (s *LocalStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

func (s *LocalStream) ofKind(k TrackKind) []LocalTrack {
	var out []LocalTrack
	for _, t := range s.tracks {
		if t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

func sameKinds(a, b *LocalStream) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.HasKind(KindAudio) == b.HasKind(KindAudio) &&
		a.HasKind(KindVideo) == b.HasKind(KindVideo)
}
