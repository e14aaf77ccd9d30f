package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[T any](t *testing.T, sub *Subscription[T], n int) []T {
	t.Helper()
	var out []T
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case v, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, v)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestHub_DeliversInOrderToEverySubscriber(t *testing.T) {
	hub := New[int]()
	defer hub.Close()

	a := hub.Subscribe(context.Background())
	b := hub.Subscribe(context.Background())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, hub.Len())

	for i := 0; i < 100; i++ {
		hub.Emit(i)
	}

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, collect(t, a, 100))
	assert.Equal(t, want, collect(t, b, 100))
}

func TestHub_EmitDoesNotBlockOnIdleSubscriber(t *testing.T) {
	hub := New[int]()
	defer hub.Close()
	hub.Subscribe(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			hub.Emit(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a subscriber that never reads")
	}
}

func TestHub_NoReplayForLateSubscribers(t *testing.T) {
	hub := New[string]()
	defer hub.Close()

	early := hub.Subscribe(context.Background())
	hub.Emit("before")
	late := hub.Subscribe(context.Background())
	hub.Emit("after")

	assert.Equal(t, []string{"before", "after"}, collect(t, early, 2))
	assert.Equal(t, []string{"after"}, collect(t, late, 1))
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := New[int]()
	defer hub.Close()

	sub := hub.Subscribe(context.Background())
	sub.Close()
	sub.Close()
	hub.Unsubscribe(sub.ID())

	assert.Equal(t, 0, hub.Len())
	hub.Emit(1)

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestHub_ContextCancelUnsubscribes(t *testing.T) {
	hub := New[int]()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := hub.Subscribe(ctx)
	require.Equal(t, 1, hub.Len())

	cancel()
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)

	for range sub.Events() {
	}
}

func TestHub_DropOldestWhenBounded(t *testing.T) {
	hub := New(WithCapacity[int](2))
	defer hub.Close()

	sub := hub.Subscribe(context.Background())
	for i := 1; i <= 5; i++ {
		hub.Emit(i)
	}

	// at most one value is in flight outside the queue
	assert.GreaterOrEqual(t, sub.Dropped(), uint64(2))

	var got []int
	for v := range sub.Events() {
		got = append(got, v)
		if v == 5 {
			break
		}
	}
	assert.IsIncreasing(t, got)
	assert.Equal(t, 5, got[len(got)-1])
}

func TestHub_CloneIsolatesSubscribers(t *testing.T) {
	hub := New(WithClone(func(b []byte) []byte {
		return append([]byte(nil), b...)
	}))
	defer hub.Close()

	a := hub.Subscribe(context.Background())
	b := hub.Subscribe(context.Background())

	src := []byte{1, 2, 3}
	hub.Emit(src)
	src[0] = 42

	gotA := collect(t, a, 1)[0]
	gotA[1] = 99
	gotB := collect(t, b, 1)[0]

	assert.Equal(t, []byte{1, 2, 3}, gotB)
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	hub := New[int]()
	sub := hub.Subscribe(context.Background())
	hub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	after := hub.Subscribe(context.Background())
	_, ok = <-after.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Len())
}
