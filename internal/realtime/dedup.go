package realtime

import "sync"

// dedup remembers the last size envelope ids so redelivered pushes can be
// dropped. The oldest id is forgotten first.
type dedup struct {
	mu   sync.Mutex
	size int
	ring []string
	next int
	seen map[string]struct{}
}

func newDedup(size int) *dedup {
	return &dedup{
		size: size,
		ring: make([]string, size),
		seen: make(map[string]struct{}, size),
	}
}

// Seen records id and reports whether it was already in the window. Empty
// ids are never considered duplicates.
func (d *dedup) Seen(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = id
	d.seen[id] = struct{}{}
	d.next = (d.next + 1) % d.size
	return false
}
