package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var km keyedMutex[string]
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("k")
			c := counter
			time.Sleep(time.Microsecond)
			counter = c + 1
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, km.size(), "entries must be released")
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	var km keyedMutex[string]
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyedRWMutexWriterExcludesReaders(t *testing.T) {
	var km keyedRWMutex[string]
	unlockW := km.Lock("q")

	got := make(chan struct{})
	go func() {
		unlock := km.RLock("q")
		unlock()
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("reader entered while writer held the lock")
	case <-time.After(50 * time.Millisecond):
	}
	unlockW()
	require.Eventually(t, func() bool {
		select {
		case <-got:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
