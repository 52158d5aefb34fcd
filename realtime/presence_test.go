package realtime

import (
	"room-chat/domain"
	"testing"

	"github.com/stretchr/testify/require"
)

func entry(refs ...string) presenceEntry {
	metas := make([]domain.PresenceMeta, 0, len(refs))
	for _, ref := range refs {
		metas = append(metas, domain.PresenceMeta{"phx_ref": ref})
	}
	return presenceEntry{Metas: metas}
}

func TestPresence_SyncStateReplacesEverything(t *testing.T) {
	req := require.New(t)
	p := NewPresence()
	p.SyncState(map[string]presenceEntry{"alice": entry("a1"), "bob": entry("b1")})

	// When a new full state arrives without bob
	p.SyncState(map[string]presenceEntry{"alice": entry("a1"), "carol": entry("c1")})

	// Then bob is dropped, not merged
	state := p.State()
	req.Len(state, 2)
	req.Contains(state, "alice")
	req.Contains(state, "carol")
	req.NotContains(state, "bob")
}

func TestPresence_DiffBufferedUntilState(t *testing.T) {
	req := require.New(t)
	p := NewPresence()

	// Given a diff arriving before the first state
	applied := p.SyncDiff(presenceDiff{Joins: map[string]presenceEntry{"carol": entry("c1")}})
	req.False(applied)
	req.Empty(p.State())

	// When the state arrives, Then the buffered diff is replayed on top of it
	p.SyncState(map[string]presenceEntry{"alice": entry("a1")})
	state := p.State()
	req.Len(state, 2)
	req.Contains(state, "carol")

	// And later diffs apply immediately
	req.True(p.SyncDiff(presenceDiff{Leaves: map[string]presenceEntry{"alice": entry("a1")}}))
	req.NotContains(p.State(), "alice")
}

func TestPresence_LeaveRemovesOnlyMatchingRefs(t *testing.T) {
	req := require.New(t)
	p := NewPresence()
	p.SyncState(map[string]presenceEntry{"alice": entry("a1", "a2")})

	// When one of alice's two connections leaves
	p.SyncDiff(presenceDiff{Leaves: map[string]presenceEntry{"alice": entry("a1")}})

	// Then alice stays present with the remaining meta
	state := p.State()
	req.Len(state["alice"], 1)
	req.Equal("a2", state["alice"][0].PresenceRef())

	// And unknown keys in leaves are ignored
	p.SyncDiff(presenceDiff{Leaves: map[string]presenceEntry{"ghost": entry("g1")}})
	req.Len(p.State(), 1)
}

func TestPresence_ResetBuffersAgain(t *testing.T) {
	req := require.New(t)
	p := NewPresence()
	p.SyncState(map[string]presenceEntry{"alice": entry("a1")})

	p.Reset()

	req.False(p.SyncDiff(presenceDiff{Joins: map[string]presenceEntry{"bob": entry("b1")}}))
	req.NotContains(p.State(), "bob")
}

func TestEndpointFromURL(t *testing.T) {
	req := require.New(t)
	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{"https project", "https://xyz.supabase.co", "wss://xyz.supabase.co/realtime/v1/websocket", false},
		{"trailing slash", "https://xyz.supabase.co/", "wss://xyz.supabase.co/realtime/v1/websocket", false},
		{"local http", "http://127.0.0.1:54321", "ws://127.0.0.1:54321/realtime/v1/websocket", false},
		{"unsupported scheme", "ftp://example.com", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EndpointFromURL(tt.base)
			if tt.wantErr {
				req.Error(err)
				return
			}
			req.NoError(err)
			req.Equal(tt.want, got)
		})
	}
}
