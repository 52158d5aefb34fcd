package realtime

import (
	"room-chat/domain"
	"sync"

	"github.com/samber/lo"
)

// presenceEntry is the wire shape of one key in presence_state and presence_diff.
type presenceEntry struct {
	Metas []domain.PresenceMeta `json:"metas"`
}

type presenceDiff struct {
	Joins  map[string]presenceEntry `json:"joins"`
	Leaves map[string]presenceEntry `json:"leaves"`
}

// Presence mirrors the server presence state for one channel.
// Diffs received before the first full state of a join are buffered and
// replayed once that state arrives.
type Presence struct {
	mu      sync.Mutex
	state   map[string][]domain.PresenceMeta
	pending []presenceDiff
	synced  bool
}

func NewPresence() *Presence {
	return &Presence{state: make(map[string][]domain.PresenceMeta)}
}

// Reset marks the presence as waiting for a fresh full state, on (re)join.
func (p *Presence) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.synced = false
	p.pending = nil
}

// SyncState replaces the whole state, then applies buffered diffs.
func (p *Presence) SyncState(state map[string]presenceEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := make(map[string][]domain.PresenceMeta, len(state))
	for key, entry := range state {
		if len(entry.Metas) == 0 {
			continue
		}
		next[key] = append([]domain.PresenceMeta(nil), entry.Metas...)
	}
	p.state = next
	for _, diff := range p.pending {
		p.apply(diff)
	}
	p.pending = nil
	p.synced = true
}

// SyncDiff applies joins and leaves. It returns false while the diff is buffered.
func (p *Presence) SyncDiff(diff presenceDiff) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.synced {
		p.pending = append(p.pending, diff)
		return false
	}
	p.apply(diff)
	return true
}

func (p *Presence) apply(diff presenceDiff) {
	for key, entry := range diff.Joins {
		p.state[key] = append(p.state[key], entry.Metas...)
	}
	for key, entry := range diff.Leaves {
		current, ok := p.state[key]
		if !ok {
			continue
		}
		refs := lo.SliceToMap(entry.Metas, func(m domain.PresenceMeta) (string, struct{}) {
			return m.PresenceRef(), struct{}{}
		})
		remaining := lo.Reject(current, func(m domain.PresenceMeta, _ int) bool {
			_, leaving := refs[m.PresenceRef()]
			return leaving
		})
		if len(remaining) == 0 {
			delete(p.state, key)
			continue
		}
		p.state[key] = remaining
	}
}

// State returns a copy of the current snapshot.
func (p *Presence) State() map[string][]domain.PresenceMeta {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]domain.PresenceMeta, len(p.state))
	for key, metas := range p.state {
		out[key] = append([]domain.PresenceMeta(nil), metas...)
	}
	return out
}
