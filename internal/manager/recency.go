package manager

import "container/list"

// RecencyTracker orders resident models by last access. Implementations need
// not be safe for concurrent use; the manager calls them under its mutex.
type RecencyTracker interface {
	// Touch marks id most recently used, inserting it if absent.
	Touch(id string)
	Remove(id string)
	// Oldest returns the least recently used id other than exclude.
	Oldest(exclude string) (string, bool)
	Len() int
	// IDs returns tracked ids from least to most recently used.
	IDs() []string
}

// lru keeps ids in a doubly linked list; front is least recently used.
type lru struct {
	ll  *list.List
	idx map[string]*list.Element
}

// NewLRU returns the default list-backed RecencyTracker.
func NewLRU() RecencyTracker {
	return &lru{ll: list.New(), idx: make(map[string]*list.Element)}
}

func (l *lru) Touch(id string) {
	if el, ok := l.idx[id]; ok {
		l.ll.MoveToBack(el)
		return
	}
	l.idx[id] = l.ll.PushBack(id)
}

func (l *lru) Remove(id string) {
	if el, ok := l.idx[id]; ok {
		l.ll.Remove(el)
		delete(l.idx, id)
	}
}

func (l *lru) Oldest(exclude string) (string, bool) {
	for el := l.ll.Front(); el != nil; el = el.Next() {
		if id := el.Value.(string); id != exclude {
			return id, true
		}
	}
	return "", false
}

func (l *lru) Len() int { return l.ll.Len() }

func (l *lru) IDs() []string {
	out := make([]string, 0, l.ll.Len())
	for el := l.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}
