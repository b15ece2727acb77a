package procgroup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRunsConcurrentlyAndWaitBlocksUntilDone(t *testing.T) {
	g := New(context.Background())
	var done atomic.Int32
	for i := 0; i < 5; i++ {
		g.Go(func() {
			time.Sleep(time.Millisecond)
			done.Add(1)
		})
	}
	g.Wait()
	require.EqualValues(t, 5, done.Load())
}

func TestPanicInGoCancelsContext(t *testing.T) {
	g := New(context.Background())
	g.Go(func() { panic("boom") })
	g.Wait()
	require.Error(t, g.Context().Err())
}

func TestDefersRunInReverseOrderAfterWait(t *testing.T) {
	g := New(context.Background())
	var order []int
	g.AddDefer(func() { order = append(order, 1) })
	g.AddDefer(func() { order = append(order, 2) })
	g.Go(func() {})
	g.Wait()
	require.Equal(t, []int{2, 1}, order)
}

func TestStopCancelsContextWithoutPanicking(t *testing.T) {
	g := New(context.Background())
	g.Stop()
	require.Error(t, g.Context().Err())
}
