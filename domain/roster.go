package domain

import (
	"sort"

	"github.com/samber/lo"
)

// Roster is the set of user keys present on the channel.
// It is rebuilt from every presence snapshot, never merged.
type Roster map[string]struct{}

func NewRoster(keys ...string) Roster {
	r := make(Roster, len(keys))
	for _, k := range keys {
		r[k] = struct{}{}
	}
	return r
}

// RosterFromState keeps only the keys of a presence snapshot.
func RosterFromState(state map[string][]PresenceMeta) Roster {
	return NewRoster(lo.Keys(state)...)
}

func (r Roster) Len() int { return len(r) }

func (r Roster) Contains(key string) bool {
	_, ok := r[key]
	return ok
}

// Keys returns the members sorted for stable rendering.
func (r Roster) Keys() []string {
	keys := lo.Keys(r)
	sort.Strings(keys)
	return keys
}
