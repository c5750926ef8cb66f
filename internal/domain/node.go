// Package domain contains wire entities without logic, just meta-data
package domain

import (
	"errors"
	"math"
	"unicode/utf8"
)

const (
	MaxNodeIDLen   = 64
	MaxNicknameLen = 36
	MaxColorLen    = 16
)

var (
	ErrEmptyID         = errors.New("node id empty")
	ErrIDTooLong       = errors.New("node id too long")
	ErrNicknameTooLong = errors.New("nickname too long")
	ErrColorTooLong    = errors.New("color too long")
	ErrBadPosition     = errors.New("position is not finite")
)

// Vec2 is a point on the shared plane. It travels as [x, y].
type Vec2 [2]float64

func (v Vec2) X() float64 { return v[0] }
func (v Vec2) Y() float64 { return v[1] }

// Dist is the euclidean distance between v and o.
func (v Vec2) Dist(o Vec2) float64 {
	return math.Hypot(v[0]-o[0], v[1]-o[1])
}

func (v Vec2) finite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// NodeState is the public state of one participant as it crosses the relay.
// Absent fields are left untouched when the state is applied to a node.
type NodeState struct {
	ID       string  `json:"id"`
	Color    *string `json:"color,omitempty"`
	Nickname *string `json:"nickname,omitempty"`
	Pos      *Vec2   `json:"pos,omitempty"`
}

// NewNodeState builds a fully populated state.
func NewNodeState(id, nickname, color string, pos Vec2) NodeState {
	return NodeState{ID: id, Nickname: &nickname, Color: &color, Pos: &pos}
}

func (s NodeState) Validate() error {
	if s.ID == "" {
		return ErrEmptyID
	}
	if len(s.ID) > MaxNodeIDLen {
		return ErrIDTooLong
	}
	if s.Nickname != nil && utf8.RuneCountInString(*s.Nickname) > MaxNicknameLen {
		return ErrNicknameTooLong
	}
	if s.Color != nil && len(*s.Color) > MaxColorLen {
		return ErrColorTooLong
	}
	if s.Pos != nil && !s.Pos.finite() {
		return ErrBadPosition
	}
	return nil
}
