package store

import (
	"sync"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/model"
)

// Notifier is a best-effort "data changed" broadcast. Other open sessions
// subscribe to invalidate in-memory caches after local mutations. It is
// advisory: delivery is synchronous, unordered across subscribers, and
// carries no payload beyond the touched collection.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(model.EntityType)
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(model.EntityType))}
}

// Subscribe registers a callback and returns an unsubscribe function.
func (n *Notifier) Subscribe(fn func(model.EntityType)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Broadcast notifies all subscribers that a collection changed.
func (n *Notifier) Broadcast(t model.EntityType) {
	n.mu.Lock()
	fns := make([]func(model.EntityType), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(t)
	}
}

// BroadcastAll notifies subscribers once per known collection, used after
// mutations that may have touched several (e.g. a rekey rewriting
// dependent foreign keys).
func (n *Notifier) BroadcastAll() {
	for _, t := range model.AllTypes {
		n.Broadcast(t)
	}
}
