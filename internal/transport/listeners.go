package transport

import "sync"

// closeListeners runs registered callbacks exactly once when fire is called.
// Callbacks registered after fire run immediately.
type closeListeners struct {
	mu     sync.Mutex
	fns    map[uint64]func()
	next   uint64
	fired  bool
	doneCh chan struct{}
}

func newCloseListeners() *closeListeners {
	return &closeListeners{fns: make(map[uint64]func()), doneCh: make(chan struct{})}
}

func (l *closeListeners) add(fn func()) func() {
	l.mu.Lock()
	if l.fired {
		l.mu.Unlock()
		fn()
		return func() {}
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

// fire marks the connection closed and runs the callbacks outside the lock,
// since they commonly unregister other listeners. It reports whether this
// call did the firing.
func (l *closeListeners) fire() bool {
	l.mu.Lock()
	if l.fired {
		l.mu.Unlock()
		return false
	}
	l.fired = true
	close(l.doneCh)
	fns := make([]func(), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.fns = nil
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return true
}

func (l *closeListeners) done() <-chan struct{} { return l.doneCh }
