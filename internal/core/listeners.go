package core

import "sync"

// listeners fans snapshots out to subscribers in the order the store produced
// them. publish is called with the store lock held, so queue order is state
// order; flush then delivers outside that lock so a subscriber may call back
// into the store. A nested or concurrent flush leaves delivery to whichever
// flush is already draining the queue.
type listeners[T any] struct {
	mu       sync.Mutex
	next     int
	fns      map[int]func(T)
	queue    []T
	draining bool
}

func (l *listeners[T]) add(fn func(T)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners[T]) publish(v T) {
	l.mu.Lock()
	if len(l.fns) > 0 {
		l.queue = append(l.queue, v)
	}
	l.mu.Unlock()
}

func (l *listeners[T]) flush() {
	l.mu.Lock()
	if l.draining {
		l.mu.Unlock()
		return
	}
	l.draining = true

	for len(l.queue) > 0 {
		v := l.queue[0]
		l.queue = l.queue[1:]
		fns := make([]func(T), 0, len(l.fns))
		for i := 0; i < l.next; i++ {
			if fn, ok := l.fns[i]; ok {
				fns = append(fns, fn)
			}
		}

		l.mu.Unlock()
		for _, fn := range fns {
			fn(v)
		}
		l.mu.Lock()
	}
	l.draining = false
	l.mu.Unlock()
}
