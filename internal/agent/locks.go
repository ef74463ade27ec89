package agent

import (
	"context"
	"sync"
)

// keyedMutex hands out one lock per key and forgets it once nobody
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a one-slot semaphore. A token in sem means the key is held.
type keyLock struct {
	sem  chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock waits until key is free or ctx is done. On success it returns
// the matching unlock func; otherwise ctx.Err().
func (k *keyedMutex) Lock(ctx context.Context, key string) (unlock func(), err error) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	select {
	case m.sem <- struct{}{}:
		return func() {
			<-m.sem
			k.release(key, m)
		}, nil
	case <-ctx.Done():
		k.release(key, m)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key string, m *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
}

// len reports how many keys are tracked.
func (k *keyedMutex) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
