package epoch

import (
	"cmp"
	"fmt"
)

// Key is the total order of timeline nodes.
//
// Operations at the same Time are ordered by Priority (lower first), then
// by ID. Sub is zero for scheduled operations; reactive instances carry
// the key of the operation that triggered them with Sub set to the
// daemon's index plus one, so they run directly after their trigger.
type Key struct {
	Time     Epoch
	Priority int32
	ID       string
	Sub      uint32
}

// At returns the key of a scheduled operation.
func At(t Epoch, priority int32, id string) Key {
	return Key{Time: t, Priority: priority, ID: id}
}

// Compare returns -1, 0 or +1.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.Time, o.Time); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Priority, o.Priority); c != 0 {
		return c
	}
	if c := cmp.Compare(k.ID, o.ID); c != 0 {
		return c
	}
	return cmp.Compare(k.Sub, o.Sub)
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool { return k.Compare(o) < 0 }

// Reactive returns the key of the sub-th reactive instance triggered at k.
func (k Key) Reactive(sub uint32) Key {
	return Key{Time: k.Time, Priority: k.Priority, ID: k.ID, Sub: sub}
}

// IsReactive reports whether k belongs to a daemon instance.
func (k Key) IsReactive() bool { return k.Sub != 0 }

// First is the smallest key at t.
func First(t Epoch) Key {
	return Key{Time: t, Priority: -1 << 31}
}

func (k Key) String() string {
	if k.Sub != 0 {
		return fmt.Sprintf("%s/%d/%s#%d", k.Time, k.Priority, k.ID, k.Sub)
	}
	return fmt.Sprintf("%s/%d/%s", k.Time, k.Priority, k.ID)
}
