package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLocks_SerializesSameSession(t *testing.T) {
	locks := newSessionLocks()

	var mu sync.Mutex
	var order []int

	release := locks.Lock("s1")

	done := make(chan struct{})
	go func() {
		release2 := locks.Lock("s1")
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		release2()
		close(done)
	}()

	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	release()
	<-done

	assert.Equal(t, []int{1, 2}, order)
}

func TestSessionLocks_DifferentSessionsIndependent(t *testing.T) {
	locks := newSessionLocks()

	release1 := locks.Lock("s1")
	release2 := locks.Lock("s2") // must not block
	release2()
	release1()
}

func TestSessionLocks_CleansUpAfterRelease(t *testing.T) {
	locks := newSessionLocks()

	release := locks.Lock("s1")
	release()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}
