package app

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	got, err := ParsePath(" 0,0; 10.5, -3 ;;200,0;")
	require.NoError(t, err)
	assert.Equal(t, []domain.Vec2{{0, 0}, {10.5, -3}, {200, 0}}, got)

	for _, bad := range []string{"", ";", "1", "a,2", "1,b"} {
		_, err := ParsePath(bad)
		assert.Error(t, err, bad)
	}
	_, err = ParsePath("")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestWalkLoopsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := []domain.Vec2{{0, 0}, {1, 1}}

	var seen []domain.Vec2
	err := Walk(ctx, nil, time.Millisecond, path, func(p domain.Vec2) {
		seen = append(seen, p)
		if len(seen) == 5 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []domain.Vec2{{0, 0}, {1, 1}, {0, 0}, {1, 1}, {0, 0}}, seen)

	assert.ErrorIs(t, Walk(context.Background(), nil, time.Millisecond, nil, func(domain.Vec2) {}), ErrEmptyPath)
}

func TestParseEndpoints(t *testing.T) {
	ep, err := ParseEndpoints("https://relay.example.org/chat/")
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.org/chat/api/ws/room", ep.Room)
	assert.Equal(t, "wss://relay.example.org/chat/api/ws/signal", ep.Signal)
	assert.Equal(t, "https://relay.example.org/chat/ice", ep.ICE)

	ep, err = ParseEndpoints("ws://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/api/ws/room", ep.Room)
	assert.Equal(t, "http://localhost:8080/ice", ep.ICE)

	_, err = ParseEndpoints("ftp://x")
	assert.Error(t, err)
}
