// Package notifier provides a keyed broadcast mechanism for SSE updates.
package notifier

import "sync"

// Notifier pings listeners subscribed under a key, typically one mounted
// dashboard. Listeners receive an empty struct when updates are available
// and should re-read the state they render.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[string]map[chan struct{}]struct{}
}

// New creates a new Notifier instance.
func New() *Notifier {
	return &Notifier{
		listeners: make(map[string]map[chan struct{}]struct{}),
	}
}

// Subscribe returns a channel that receives pings for key.
// The caller must call Unsubscribe when done to prevent goroutine leaks.
func (n *Notifier) Subscribe(key string) chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	set, ok := n.listeners[key]
	if !ok {
		set = make(map[chan struct{}]struct{})
		n.listeners[key] = set
	}
	set[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(key string, ch chan struct{}) {
	n.mu.Lock()
	if set, ok := n.listeners[key]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(n.listeners, key)
		}
	}
	n.mu.Unlock()
	close(ch)
}

// Notify pings the listeners of key.
// Non-blocking: if a listener's channel is full, the ping is skipped.
func (n *Notifier) Notify(key string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ping(n.listeners[key])
}

// Broadcast pings every listener.
func (n *Notifier) Broadcast() {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, set := range n.listeners {
		ping(set)
	}
}

// Count returns the number of listeners of key.
func (n *Notifier) Count(key string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners[key])
}

func ping(set map[chan struct{}]struct{}) {
	for ch := range set {
		select {
		case ch <- struct{}{}:
		default:
			// Channel full, the listener has a pending ping already
		}
	}
}
