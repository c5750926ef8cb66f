package domain

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVec2Dist(t *testing.T) {
	assert.InDelta(t, 5.0, Vec2{0, 0}.Dist(Vec2{3, 4}), 1e-9)
	assert.Zero(t, Vec2{7, 7}.Dist(Vec2{7, 7}))
}

func TestNodeStateWireShape(t *testing.T) {
	st := NewNodeState("a", "alice", "#ffffff", Vec2{100, 0})
	b, err := json.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a","nickname":"alice","color":"#ffffff","pos":[100,0]}`, string(b))

	var partial NodeState
	require.NoError(t, json.Unmarshal([]byte(`{"id":"b","pos":[1,2]}`), &partial))
	assert.Nil(t, partial.Nickname)
	assert.Nil(t, partial.Color)
	require.NotNil(t, partial.Pos)
	assert.Equal(t, Vec2{1, 2}, *partial.Pos)
}

func TestNodeStateValidate(t *testing.T) {
	long := strings.Repeat("x", MaxNicknameLen+1)
	nan := Vec2{math.NaN(), 0}

	tests := []struct {
		name string
		st   NodeState
		want error
	}{
		{name: "ok", st: NewNodeState("a", "n", "#000000", Vec2{}), want: nil},
		{name: "empty id", st: NodeState{}, want: ErrEmptyID},
		{name: "long id", st: NodeState{ID: strings.Repeat("i", MaxNodeIDLen+1)}, want: ErrIDTooLong},
		{name: "long nickname", st: NodeState{ID: "a", Nickname: &long}, want: ErrNicknameTooLong},
		{name: "nan position", st: NodeState{ID: "a", Pos: &nan}, want: ErrBadPosition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.st.Validate(), tt.want)
		})
	}
}

func TestNormalizeRoom(t *testing.T) {
	name, err := NormalizeRoom("https://example.org/Lobby")
	require.NoError(t, err)
	assert.Equal(t, RoomName("lobby"), name)

	_, err = NormalizeRoom("  ")
	assert.ErrorIs(t, err, ErrRoomNameEmpty)
}

func TestRandomColor(t *testing.T) {
	re := regexp.MustCompile(`^#[0-9a-f]{6}$`)
	for range 50 {
		c := RandomColor(200)
		require.Regexp(t, re, c)
		for i := 1; i < 7; i += 2 {
			v, err := strconv.ParseUint(c[i:i+2], 16, 8)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, v, uint64(200))
		}
	}
}
