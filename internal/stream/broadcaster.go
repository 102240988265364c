package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// ListenerBuffer is how many 20ms frames a listener may fall behind before
// frames are dropped for it.
const ListenerBuffer = 150

// Broadcaster fans out master-bus PCM frames from the engine to any number
// of monitor listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	delivered atomic.Int64
}

// Listener receives interleaved PCM frames from the broadcaster.
type Listener struct {
	C       chan []int16
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Done is closed once the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped returns how many frames were skipped because the listener was
// behind.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, ListenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and closes its Done channel. Calling it
// twice is harmless.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Delivered returns how many frames have passed through the broadcaster.
func (b *Broadcaster) Delivered() int64 {
	return b.delivered.Load()
}

// Run reads frames from source and hands each to every listener until ctx
// ends or source closes. A listener with a full buffer misses the frame.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.delivered.Add(1)
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
