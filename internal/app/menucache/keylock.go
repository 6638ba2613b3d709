package menucache

import (
	"context"
	"sync"
)

// keyedLocks serializes work per key. Idle keys are dropped from the map.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// acquire blocks until the key is free or ctx is done. The returned func
// releases the key.
func (k *keyedLocks) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.held == nil {
		k.held = make(map[string]*keyLock)
	}
	l, ok := k.held[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.held[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			k.forget(key, l)
		}, nil
	case <-ctx.Done():
		k.forget(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedLocks) forget(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.held, key)
	}
}

// waiters counts holders and waiters of key.
func (k *keyedLocks) waiters(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok := k.held[key]; ok {
		return l.refs
	}
	return 0
}
