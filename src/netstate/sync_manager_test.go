package netstate

import (
	"math"
	"testing"
	"time"

	"github.com/opsmesh/opsmesh/src/common"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregatesAreZeroWithoutPeers(t *testing.T) {
	sm := NewSyncManager(common.NewTestEntry(t))

	if e := sm.NetworkEmpathy(); e != 0 {
		t.Fatalf("empty network empathy should be 0, got %f", e)
	}
	if s := sm.NetworkStrain(); s != 0 {
		t.Fatalf("empty network strain should be 0, got %f", s)
	}
	if h := sm.NetworkHealth(); h != 0 {
		t.Fatalf("empty network health should be 0, got %f", h)
	}
}

func TestAggregatesAreMeans(t *testing.T) {
	sm := NewSyncManager(common.NewTestEntry(t))

	sm.Update(EmpathyState{PeerID: "a", Empathy: 0.8, Strain: 0.2, Health: 1.0, UpdatedAt: time.Now()})
	sm.Update(EmpathyState{PeerID: "b", Empathy: 0.4, Strain: 0.6, Health: 0.5, UpdatedAt: time.Now()})

	if e := sm.NetworkEmpathy(); !almostEqual(e, 0.6) {
		t.Fatalf("expected empathy 0.6, got %f", e)
	}
	if s := sm.NetworkStrain(); !almostEqual(s, 0.4) {
		t.Fatalf("expected strain 0.4, got %f", s)
	}
	if h := sm.NetworkHealth(); !almostEqual(h, 0.75) {
		t.Fatalf("expected health 0.75, got %f", h)
	}
}

func TestUpdateIsLastWriteWins(t *testing.T) {
	sm := NewSyncManager(common.NewTestEntry(t))

	sm.Update(EmpathyState{PeerID: "a", Empathy: 0.2, UpdatedAt: time.Now()})
	sm.Update(EmpathyState{PeerID: "a", Empathy: 0.9, UpdatedAt: time.Now()})

	if sm.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", sm.Len())
	}
	if e := sm.NetworkEmpathy(); !almostEqual(e, 0.9) {
		t.Fatalf("latest report should win, got %f", e)
	}
}

func TestSnapshotRestore(t *testing.T) {
	sm := NewSyncManager(common.NewTestEntry(t))

	sm.Update(EmpathyState{PeerID: "a", Empathy: 0.8, Strain: 0.1, Health: 0.9, UpdatedAt: time.Now()})
	sm.Update(EmpathyState{PeerID: "b", Empathy: 0.3, Strain: 0.7, Health: 0.4, UpdatedAt: time.Now()})

	restored := NewSyncManager(common.NewTestEntry(t))
	restored.Restore(sm.Snapshot())

	if restored.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", restored.Len())
	}
	if !almostEqual(restored.NetworkEmpathy(), sm.NetworkEmpathy()) {
		t.Fatalf("restored empathy mismatch")
	}
}
