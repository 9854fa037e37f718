package game

import "fmt"

// Effect is what a registry reports back to Game after applying a change.
type Effect struct {
	NeedsReset bool
}

// indexBy builds a unique index over list. Entries whose key function reports
// false are left out of the index.
func indexBy[E any, K comparable](list []E, what string, key func(E) (K, bool)) (map[K]E, error) {
	idx := make(map[K]E, len(list))
	for _, e := range list {
		k, ok := key(e)
		if !ok {
			continue
		}
		if _, dup := idx[k]; dup {
			return nil, fmt.Errorf("%w: %s %v", ErrDuplicateKey, what, k)
		}
		idx[k] = e
	}
	return idx, nil
}

func without[E any](list []E, drop func(E) bool) []E {
	out := make([]E, 0, len(list))
	for _, e := range list {
		if !drop(e) {
			out = append(out, e)
		}
	}
	return out
}
