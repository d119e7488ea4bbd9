package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsJobs(t *testing.T) {
	d := NewDispatcher(2, 4)
	t.Cleanup(d.Close)

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		err := d.Do(context.Background(), int64(i%2+1), func(context.Context) error {
			count.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, int32(5), count.Load())
	require.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDispatcherPropagatesJobError(t *testing.T) {
	d := NewDispatcher(1, 0)
	t.Cleanup(d.Close)

	boom := errors.New("boom")
	err := d.Do(context.Background(), 1, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	err = d.Do(context.Background(), 1, func(context.Context) error { panic("bad") })
	require.Error(t, err)
	require.Contains(t, err.Error(), "panicked")
}

func TestDispatcherBusyWhenSaturated(t *testing.T) {
	d := NewDispatcher(1, 1)
	t.Cleanup(d.Close)

	block := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- d.Do(context.Background(), 7, func(context.Context) error {
				<-block
				return nil
			})
		}()
	}
	require.Eventually(t, func() bool { return d.Pending() == 2 }, time.Second, 5*time.Millisecond)

	err := d.Do(context.Background(), 8, func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrBusy)

	close(block)
	require.NoError(t, <-results)
	require.NoError(t, <-results)
	require.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Do(context.Background(), 8, func(context.Context) error { return nil }))
}

func TestDispatcherCallerContextDoesNotCancelJob(t *testing.T) {
	d := NewDispatcher(1, 0)
	t.Cleanup(d.Close)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	finished := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Do(ctx, 1, func(context.Context) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			close(finished)
			return nil
		})
	}()
	<-started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("job did not run to completion")
	}
}

func TestDispatcherClosed(t *testing.T) {
	d := NewDispatcher(1, 1)
	d.Close()
	d.Close()
	err := d.Do(context.Background(), 1, func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrClosed)
}
