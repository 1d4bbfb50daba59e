package peers

import (
	"sync"
	"time"
)

// Table is the concurrently-accessed set of peers known to this node, keyed
// by peer ID. It owns its own lock; callers never hold it together with
// another component's lock.
type Table struct {
	sync.RWMutex
	byID map[string]*Peer
}

// NewTable returns an empty peer table.
func NewTable() *Table {
	return &Table{
		byID: make(map[string]*Peer),
	}
}

// Upsert inserts the peer, or refreshes the existing record's mutable fields
// if the ID is already known. It returns true if the peer was new.
func (t *Table) Upsert(peer *Peer) bool {
	t.Lock()
	defer t.Unlock()

	existing, ok := t.byID[peer.ID]
	if !ok {
		cp := *peer
		if cp.DiscoveredAt.IsZero() {
			cp.DiscoveredAt = time.Now()
		}
		t.byID[peer.ID] = &cp
		return true
	}

	existing.NetAddr = peer.NetAddr
	existing.Moniker = peer.Moniker
	existing.ProtocolVersion = peer.ProtocolVersion
	if peer.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = peer.LastSeen
	}
	existing.Connected = peer.Connected

	return false
}

// Get returns a copy of the peer record, if known.
func (t *Table) Get(id string) (Peer, bool) {
	t.RLock()
	defer t.RUnlock()

	peer, ok := t.byID[id]
	if !ok {
		return Peer{}, false
	}
	return *peer, true
}

// Touch records liveness for the peer: LastSeen is set to when and the peer
// is marked connected. Unknown IDs are ignored.
func (t *Table) Touch(id string, when time.Time) {
	t.Lock()
	defer t.Unlock()

	peer, ok := t.byID[id]
	if !ok {
		return
	}

	if when.After(peer.LastSeen) {
		peer.LastSeen = when
	}
	peer.Connected = true
}

// Len returns the number of known peers.
func (t *Table) Len() int {
	t.RLock()
	defer t.RUnlock()

	return len(t.byID)
}

// AliveCount returns the number of peers whose LastSeen falls within the
// liveness window ending at now. It also flips the Connected flag of peers
// that have fallen outside the window; they are considered disconnected but
// remain in the table.
func (t *Table) AliveCount(window time.Duration, now time.Time) int {
	t.Lock()
	defer t.Unlock()

	count := 0
	for _, peer := range t.byID {
		if now.Sub(peer.LastSeen) <= window {
			peer.Connected = true
			count++
		} else {
			peer.Connected = false
		}
	}

	return count
}

// Prune removes disconnected peers that have not been seen for longer than
// retention. A zero retention disables pruning; this is the default policy.
// Trust ledger entries are not affected. It returns the IDs of removed peers.
func (t *Table) Prune(retention time.Duration, now time.Time) []string {
	if retention == 0 {
		return nil
	}

	t.Lock()
	defer t.Unlock()

	removed := []string{}
	for id, peer := range t.byID {
		if !peer.Connected && now.Sub(peer.LastSeen) > retention {
			delete(t.byID, id)
			removed = append(removed, id)
		}
	}

	return removed
}

// Snapshot returns a deep copy of the table contents, for reconciliation into
// the persisted collective state.
func (t *Table) Snapshot() map[string]*Peer {
	t.RLock()
	defer t.RUnlock()

	out := make(map[string]*Peer, len(t.byID))
	for id, peer := range t.byID {
		cp := *peer
		out[id] = &cp
	}

	return out
}

// Restore replaces the table contents with a previously exported snapshot.
func (t *Table) Restore(snapshot map[string]*Peer) {
	t.Lock()
	defer t.Unlock()

	t.byID = make(map[string]*Peer, len(snapshot))
	for id, peer := range snapshot {
		cp := *peer
		t.byID[id] = &cp
	}
}
