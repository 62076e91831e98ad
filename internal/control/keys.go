package control

import (
	"strings"
	"sync"
)

// ControlKey is one of the four steering directions.
type ControlKey int

const (
	KeyForward ControlKey = iota + 1
	KeyLeft
	KeyBack
	KeyRight
)

// String returns the wire form of the key (w, a, s or d).
func (k ControlKey) String() string {
	switch k {
	case KeyForward:
		return "w"
	case KeyLeft:
		return "a"
	case KeyBack:
		return "s"
	case KeyRight:
		return "d"
	default:
		return "?"
	}
}

// ParseKey maps a raw key name onto a ControlKey.
// Anything outside WASD reports ok=false.
func ParseKey(raw string) (ControlKey, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "w":
		return KeyForward, true
	case "a":
		return KeyLeft, true
	case "s":
		return KeyBack, true
	case "d":
		return KeyRight, true
	default:
		return 0, false
	}
}

// KeySet is an insertion-ordered set of held keys.
type KeySet []ControlKey

// Contains reports whether key is in the set.
func (s KeySet) Contains(key ControlKey) bool {
	for _, held := range s {
		if held == key {
			return true
		}
	}
	return false
}

// Strings returns the wire form of the set, in insertion order.
func (s KeySet) Strings() []string {
	out := make([]string, 0, len(s))
	for _, key := range s {
		out = append(out, key.String())
	}
	return out
}

// Clone returns an independent copy.
func (s KeySet) Clone() KeySet {
	if s == nil {
		return KeySet{}
	}
	out := make(KeySet, len(s))
	copy(out, s)
	return out
}

// Tracker keeps the set of currently held keys.
// The change callback runs after the set is updated, outside the lock.
type Tracker struct {
	mu       sync.Mutex
	keys     KeySet
	onChange func(KeySet)
}

// NewTracker creates an empty tracker. onChange may be nil.
func NewTracker(onChange func(KeySet)) *Tracker {
	return &Tracker{
		keys:     KeySet{},
		onChange: onChange,
	}
}

// Press adds key if it is not already held. Repeats are no-ops.
func (t *Tracker) Press(key ControlKey) bool {
	t.mu.Lock()
	if t.keys.Contains(key) {
		t.mu.Unlock()
		return false
	}
	t.keys = append(t.keys, key)
	snapshot := t.keys.Clone()
	t.mu.Unlock()

	t.emit(snapshot)
	return true
}

// Release removes key if it is held.
func (t *Tracker) Release(key ControlKey) bool {
	t.mu.Lock()
	index := -1
	for i, held := range t.keys {
		if held == key {
			index = i
			break
		}
	}
	if index < 0 {
		t.mu.Unlock()
		return false
	}
	t.keys = append(t.keys[:index:index], t.keys[index+1:]...)
	snapshot := t.keys.Clone()
	t.mu.Unlock()

	t.emit(snapshot)
	return true
}

// Clear drops every held key.
func (t *Tracker) Clear() {
	t.mu.Lock()
	if len(t.keys) == 0 {
		t.mu.Unlock()
		return
	}
	t.keys = KeySet{}
	t.mu.Unlock()

	t.emit(KeySet{})
}

// Keys returns a snapshot of the held keys.
func (t *Tracker) Keys() KeySet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keys.Clone()
}

func (t *Tracker) emit(keys KeySet) {
	if t.onChange != nil {
		t.onChange(keys)
	}
}
