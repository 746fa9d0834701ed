package podfs

import (
	"sync"
)

// ChangeType classifies a change event.
type ChangeType int

const (
	Changed ChangeType = iota + 1
	Created
	Deleted
)

func (t ChangeType) String() string {
	switch t {
	case Changed:
		return "changed"
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// ChangeEvent reports that a path changed. Events come from this process's
// own mutations and from Refresh; the remote side is never watched.
type ChangeEvent struct {
	URI  URI
	Type ChangeType
}

const subscriptionBuffer = 64

// Subscription receives change events until closed.
type Subscription struct {
	C <-chan ChangeEvent

	c    chan ChangeEvent
	hub  *hub
	once sync.Once
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

type hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

func (h *hub) subscribe() *Subscription {
	c := make(chan ChangeEvent, subscriptionBuffer)
	s := &Subscription{C: c, c: c, hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.c)
	}
}

// publish delivers events without blocking; a subscriber whose buffer is
// full misses them. It returns how many deliveries were dropped.
func (h *hub) publish(events ...ChangeEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for s := range h.subs {
		for _, ev := range events {
			select {
			case s.c <- ev:
			default:
				dropped++
			}
		}
	}
	return dropped
}
