package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T, clk clock.Clock) *Loop {
	t.Helper()
	l := New(clk)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func TestLoopRunsPostsInOrder(t *testing.T) {
	l := startLoop(t, nil)

	var got []int
	for i := range 5 {
		l.Post(func() { got = append(got, i) })
	}
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoopSurvivesPanic(t *testing.T) {
	l := startLoop(t, nil)

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopTimerStopIsIdempotent(t *testing.T) {
	mock := clock.NewMock()
	l := startLoop(t, mock)

	fired := make(chan struct{}, 2)
	var timer Timer
	require.NoError(t, l.Call(context.Background(), func() {
		timer = l.AfterFunc(time.Second, func() { fired <- struct{}{} })
	}))

	mock.Add(time.Second)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	require.NoError(t, l.Call(context.Background(), func() {
		timer.Stop()
		timer.Stop()
	}))
}

func TestLoopStoppedTimerNeverFires(t *testing.T) {
	mock := clock.NewMock()
	l := startLoop(t, mock)

	fired := false
	require.NoError(t, l.Call(context.Background(), func() {
		timer := l.AfterFunc(time.Second, func() { fired = true })
		timer.Stop()
	}))
	mock.Add(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.False(t, fired)
}

func TestManualAdvanceOrdersTimers(t *testing.T) {
	m := NewManual()
	var got []string
	m.AfterFunc(300*time.Millisecond, func() { got = append(got, "c") })
	m.AfterFunc(100*time.Millisecond, func() {
		got = append(got, "a")
		m.AfterFunc(50*time.Millisecond, func() { got = append(got, "b") })
	})
	stopped := m.AfterFunc(200*time.Millisecond, func() { got = append(got, "x") })
	stopped.Stop()

	m.Advance(250 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, m.Pending())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Zero(t, m.Pending())
}
