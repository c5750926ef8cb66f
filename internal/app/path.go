package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/proximity/internal/domain"
)

var ErrEmptyPath = errors.New("path has no points")

// ParsePath reads "x,y;x,y;..." into waypoints.
func ParsePath(s string) ([]domain.Vec2, error) {
	var out []domain.Vec2
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		xs, ys, ok := strings.Cut(part, ",")
		if !ok {
			return nil, fmt.Errorf("waypoint %q: want x,y", part)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, fmt.Errorf("waypoint %q: %w", part, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, fmt.Errorf("waypoint %q: %w", part, err)
		}
		out = append(out, domain.Vec2{x, y})
	}
	if len(out) == 0 {
		return nil, ErrEmptyPath
	}
	return out, nil
}

// Walk moves through path one waypoint per step, looping until ctx ends.
func Walk(ctx context.Context, clk clock.Clock, step time.Duration, path []domain.Vec2, move func(domain.Vec2)) error {
	if len(path) == 0 {
		return ErrEmptyPath
	}
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(step)
	defer ticker.Stop()
	for i := 0; ; i = (i + 1) % len(path) {
		move(path[i])
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
