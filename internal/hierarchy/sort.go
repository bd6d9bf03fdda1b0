// Package hierarchy orders batched mailbox operations along the parent/child
// relation so that parents are created before children and destroyed after them.
package hierarchy

import "slices"

// Direction selects the ordering produced by Sort.
type Direction int

const (
	// RootToLeaf places every parent before its children (creation order).
	RootToLeaf Direction = iota
	// LeafToRoot places every child before its parent (destruction order).
	LeafToRoot
)

// Entry is one operation keyed by the entity it targets.
// HasParent is false for top-level entries.
type Entry[K comparable] struct {
	Key       K
	Parent    K
	HasParent bool
}

// Sort orders entries by the parent relation. Only parents that are
// themselves part of entries constrain the order; other parents are assumed
// to exist already. Entries that can never be extracted, because they lie on
// a cycle or below one, are returned in cyclic in input order.
func Sort[K comparable](entries []Entry[K], dir Direction) (ordered, cyclic []Entry[K]) {
	remaining := make(map[K]bool, len(entries))
	for _, e := range entries {
		remaining[e.Key] = true
	}

	pending := slices.Clone(entries)
	for len(pending) > 0 {
		var ready, blocked []Entry[K]
		for _, e := range pending {
			if e.HasParent && remaining[e.Parent] {
				blocked = append(blocked, e)
				continue
			}
			ready = append(ready, e)
		}
		if len(ready) == 0 {
			cyclic = blocked
			break
		}
		for _, e := range ready {
			delete(remaining, e.Key)
		}
		ordered = append(ordered, ready...)
		pending = blocked
	}

	if dir == LeafToRoot {
		slices.Reverse(ordered)
	}
	return ordered, cyclic
}
