package contextver

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCounterStartsAtOne(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, int64(1), c.Current())
	assert.Equal(t, int64(1), c.Current(), "Current must not mutate")
}

func TestCounterFromSeed(t *testing.T) {
	c := NewCounterFrom(7)
	assert.Equal(t, int64(7), c.Current())
	assert.Equal(t, int64(8), c.Bump())

	assert.Equal(t, Initial, NewCounterFrom(0).Current())
	assert.Equal(t, Initial, NewCounterFrom(-3).Current())
}

func TestBumpIsMonotonic(t *testing.T) {
	c := NewCounter()
	prev := c.Current()
	for i := 0; i < 10; i++ {
		v := c.Bump()
		assert.Greater(t, v, prev)
		assert.Equal(t, v, c.Current())
		prev = v
	}
}

func TestConcurrentBumps(t *testing.T) {
	c := NewCounter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Bump()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(51), c.Current())
}

func TestSubscribeCoalescesToLatest(t *testing.T) {
	c := NewCounter()
	ch, cancel := c.Subscribe()
	defer cancel()

	c.Bump()
	c.Bump()
	c.Bump()

	v := <-ch
	assert.Equal(t, int64(4), v)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra value %d", extra)
	default:
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	c := NewCounter()
	ch, cancel := c.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	// bumping after unsubscribe must not panic on a closed channel
	c.Bump()
}

func TestRegistryIsPerSession(t *testing.T) {
	r := NewRegistry()
	a := r.For("a")
	require.Same(t, a, r.For("a"))

	a.Bump()
	assert.Equal(t, int64(2), r.For("a").Current())
	assert.Equal(t, int64(1), r.For("b").Current())
}
