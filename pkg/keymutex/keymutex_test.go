package keymutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlockSingleKey(t *testing.T) {
	km := New()

	km.Lock("student-1")
	assert.Equal(t, 1, km.Len())

	km.Unlock("student-1")
	assert.Equal(t, 0, km.Len(), "entry should be removed after last unlock")
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	km := New()

	km.Lock("student-1")

	done := make(chan struct{})
	go func() {
		km.Lock("student-2")
		km.Unlock("student-2")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a different key should not block")
	}

	km.Unlock("student-1")
}

func TestSameKeySerializes(t *testing.T) {
	km := New()

	const goroutines = 50
	counter := 0

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			km.Lock("student-1")
			defer km.Unlock("student-1")
			counter++
		}()
	}
	wg.Wait()

	require.Equal(t, goroutines, counter)
	assert.Equal(t, 0, km.Len())
}

func TestUnlockUnknownKeyPanics(t *testing.T) {
	km := New()

	assert.Panics(t, func() {
		km.Unlock("never-locked")
	})
}
