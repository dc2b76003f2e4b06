package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInProcess_SerializesSameKey(t *testing.T) {
	l := NewInProcess()
	ctx := context.Background()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			release, err := l.Acquire(ctx, "run-abc")
			require.NoError(t, err)
			defer release()

			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(time.Millisecond)
		}(i)
	}
	wg.Wait()

	require.Len(t, order, 5)
}

func TestInProcess_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewInProcess()
	ctx := context.Background()

	release1, err := l.Acquire(ctx, "run-a")
	require.NoError(t, err)
	defer release1()

	done := make(chan struct{})
	go func() {
		release2, err := l.Acquire(ctx, "run-b")
		require.NoError(t, err)
		release2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquiring a different key blocked unexpectedly")
	}
}
