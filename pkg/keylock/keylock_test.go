package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	km := New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		current int
		max     int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("user:1")
			defer km.Unlock("user:1")

			mu.Lock()
			current++
			if current > max {
				max = current
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "holders of the same key must never overlap")
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	km := New()

	km.Lock("user:1")
	defer km.Unlock("user:1")

	done := make(chan struct{})
	go func() {
		km.Lock("user:2")
		km.Unlock("user:2")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestEntriesReleasedAfterUnlock(t *testing.T) {
	km := New()

	for i := 0; i < 10; i++ {
		km.Lock("key")
		km.Unlock("key")
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks, "released keys must not accumulate")
}
