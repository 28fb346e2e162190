package contextmgr

import (
	"sync"
	"time"
)

// KeyedMutex serializes work per string key. Acquire waits are bounded:
// past the timeout the caller proceeds without exclusion, which trades a
// rare interleaving for never deadlocking a session.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Acquire takes the lock for key, waiting at most timeout. It returns a
// release func and whether the lock was actually held. On timeout the
// release func is a no-op.
func (k *KeyedMutex) Acquire(key string, timeout time.Duration) (func(), bool) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			k.put(key, l)
		}, true
	case <-timer.C:
		k.put(key, l)
		return func() {}, false
	}
}

func (k *KeyedMutex) put(key string, l *keyLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}
