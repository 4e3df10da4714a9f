package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	return startLoopSize(t, 10)
}

func startLoopSize(t *testing.T, size int) *Loop {
	t.Helper()
	loop := NewLoop(size)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		loop.Close()
		<-done
	})
	return loop
}

func TestNewLoopDefaultQueueSize(t *testing.T) {
	loop := NewLoop(0)
	assert.Equal(t, DefaultQueueSize, cap(loop.queue))
}

func TestRunPrimarySyncExecutesOnLoop(t *testing.T) {
	loop := startLoop(t)
	s := New(loop)

	var onPrimary bool
	err := s.RunSync(context.Background(), PlacementPrimary, func(ctx context.Context) error {
		onPrimary = s.OnPrimary(ctx)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, onPrimary)
}

func TestRunPrimarySerializes(t *testing.T) {
	loop := startLoop(t)
	s := New(loop)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunSync(context.Background(), PlacementPrimary, func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestRunPrimaryNestedSyncRunsInline(t *testing.T) {
	loop := startLoop(t)
	s := New(loop)

	var inner bool
	err := s.RunSync(context.Background(), PlacementPrimary, func(ctx context.Context) error {
		return s.RunSync(ctx, PlacementPrimary, func(context.Context) error {
			inner = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, inner)
}

func TestRunPrimaryAsync(t *testing.T) {
	loop := startLoop(t)
	s := New(loop)

	release := make(chan struct{})
	h := s.Run(context.Background(), PlacementPrimary, ModeAsync, func(context.Context) error {
		<-release
		return errors.New("finished")
	})

	select {
	case <-h.Done():
		t.Fatal("async handle finished before task was released")
	default:
	}

	close(release)
	assert.EqualError(t, h.Wait(context.Background()), "finished")
}

func TestRunPrimaryWithoutLoop(t *testing.T) {
	s := New(nil)
	err := s.RunSync(context.Background(), PlacementPrimary, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNoPrimary)
}

func TestPrimaryRunning(t *testing.T) {
	assert.False(t, New(nil).PrimaryRunning())

	loop := NewLoop(1)
	s := New(loop)
	assert.False(t, s.PrimaryRunning())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()
	require.NoError(t, s.RunSync(context.Background(), PlacementPrimary, func(context.Context) error { return nil }))
	assert.True(t, s.PrimaryRunning())

	cancel()
	<-done
	assert.False(t, s.PrimaryRunning())
}

func TestRunPrimaryClosedLoop(t *testing.T) {
	loop := NewLoop(1)
	loop.Close()
	s := New(loop)

	err := s.RunSync(context.Background(), PlacementPrimary, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLoopClosed)
}

func TestRunCurrentRecoversPanic(t *testing.T) {
	s := New(nil)
	err := s.RunSync(context.Background(), PlacementCurrent, func(context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunBackgroundAsync(t *testing.T) {
	s := New(nil)
	h := s.Run(context.Background(), PlacementBackground, ModeAsync, func(context.Context) error {
		return nil
	})
	require.NoError(t, h.Wait(context.Background()))
}

func TestLoopCloseDrainsQueue(t *testing.T) {
	loop := NewLoop(4)
	h, err := loop.Submit(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)

	loop.Close()
	loop.Run(context.Background())

	assert.ErrorIs(t, h.Wait(context.Background()), ErrLoopClosed)
	assert.True(t, loop.IsClosed())
}

func TestTrySubmitQueueFull(t *testing.T) {
	loop := NewLoop(1)
	_, err := loop.TrySubmit(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)

	_, err = loop.TrySubmit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestGroupBarrierWaitsForAll(t *testing.T) {
	s := New(nil)
	g := s.Group(context.Background(), 0)

	var finished int32
	for i := 0; i < 8; i++ {
		delay := time.Duration(i) * 5 * time.Millisecond
		g.Go(func(context.Context) error {
			time.Sleep(delay)
			atomic.AddInt32(&finished, 1)
			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(8), atomic.LoadInt32(&finished))
}

func TestGroupIsolatesFailures(t *testing.T) {
	s := New(nil)
	g := s.Group(context.Background(), 2)

	var ok int32
	g.Go(func(context.Context) error { return errors.New("first failed") })
	g.Go(func(context.Context) error { panic("second panicked") })
	for i := 0; i < 4; i++ {
		g.Go(func(context.Context) error {
			atomic.AddInt32(&ok, 1)
			return nil
		})
	}

	err := g.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Contains(t, err.Error(), "second panicked")
	assert.Equal(t, int32(4), atomic.LoadInt32(&ok))
}

func TestGroupParallelism(t *testing.T) {
	s := New(nil)
	g := s.Group(context.Background(), 0)

	start := time.Now()
	for i := 0; i < 10; i++ {
		g.Go(func(context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Ten sequential sleeps would take 500ms.
	assert.Less(t, time.Since(start), 300*time.Millisecond)
}

func TestPlacementAndModeStrings(t *testing.T) {
	assert.Equal(t, "primary", PlacementPrimary.String())
	assert.Equal(t, "background", PlacementBackground.String())
	assert.Equal(t, "current", PlacementCurrent.String())
	assert.Equal(t, "async", ModeAsync.String())
	assert.Equal(t, "sync", ModeSync.String())
}

func TestRunPrimaryAsyncFromLoopOverflows(t *testing.T) {
	loop := startLoopSize(t, 1)
	s := New(loop)

	var ran []int
	var handles []*Handle
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := s.RunSync(ctx, PlacementPrimary, func(ctx context.Context) error {
		for i := 0; i < 5; i++ {
			handles = append(handles, s.Run(ctx, PlacementPrimary, ModeAsync, func(context.Context) error {
				ran = append(ran, i)
				return nil
			}))
		}
		return nil
	})
	require.NoError(t, err)

	for _, h := range handles {
		require.NoError(t, h.Wait(ctx))
	}
	// Every handle finished on the loop, so ran is safe to read.
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, ran)
}

func TestPostNeverBlocks(t *testing.T) {
	loop := NewLoop(1)
	var handles []*Handle
	for i := 0; i < 4; i++ {
		h, err := loop.Post(context.Background(), func(context.Context) error { return nil })
		require.NoError(t, err)
		handles = append(handles, h)
	}

	loop.Close()
	loop.Run(context.Background())
	for _, h := range handles {
		assert.ErrorIs(t, h.Wait(context.Background()), ErrLoopClosed)
	}

	_, err := loop.Post(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLoopClosed)
}

func TestLoopClosedAfterContextCancel(t *testing.T) {
	loop := NewLoop(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()
	require.NoError(t, New(loop).RunSync(context.Background(), PlacementPrimary, func(context.Context) error { return nil }))

	cancel()
	<-done

	assert.True(t, loop.IsClosed())
	_, err := loop.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLoopClosed)
}
