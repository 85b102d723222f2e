package store

import (
	"runtime"
	"sync/atomic"
)

// spinRW is a reader/writer lock that never parks the caller. The word holds
// the number of active readers, or -1 while a writer owns it. Acquisition is
// attempted a bounded number of times and then reported as failed.
type spinRW struct {
	word atomic.Int32
}

func (l *spinRW) tryRLock(spins int) bool {
	for i := 0; i < spins; i++ {
		n := l.word.Load()
		if n >= 0 && l.word.CompareAndSwap(n, n+1) {
			return true
		}
		runtime.Gosched()
	}
	return false
}

func (l *spinRW) rUnlock() {
	l.word.Add(-1)
}

func (l *spinRW) tryLock(spins int) bool {
	for i := 0; i < spins; i++ {
		if l.word.CompareAndSwap(0, -1) {
			return true
		}
		runtime.Gosched()
	}
	return false
}

func (l *spinRW) unlock() {
	l.word.Store(0)
}
