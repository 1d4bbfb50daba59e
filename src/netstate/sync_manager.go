// Package netstate aggregates the wellbeing metrics that peers report about
// themselves into network-wide summary statistics.
package netstate

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EmpathyState is the small set of scalar wellbeing metrics contributed by a
// peer's own telemetry and received via gossip. It is only ever used in
// aggregate.
type EmpathyState struct {
	PeerID    string    `json:"peer_id"`
	Empathy   float64   `json:"empathy"`
	Strain    float64   `json:"strain"`
	Health    float64   `json:"health"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncManager maintains the most recently received EmpathyState per peer,
// last write wins. It owns its own lock.
type SyncManager struct {
	sync.RWMutex
	states map[string]*EmpathyState
	logger *logrus.Entry
}

// NewSyncManager returns an empty SyncManager.
func NewSyncManager(logger *logrus.Entry) *SyncManager {
	return &SyncManager{
		states: make(map[string]*EmpathyState),
		logger: logger,
	}
}

// Update records the latest state received from a peer, replacing any earlier
// one.
func (s *SyncManager) Update(state EmpathyState) {
	s.Lock()
	defer s.Unlock()

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}

	s.states[state.PeerID] = &state
}

// NetworkEmpathy returns the arithmetic mean of peer empathy scalars, or 0
// with no peers.
func (s *SyncManager) NetworkEmpathy() float64 {
	return s.mean(func(st *EmpathyState) float64 { return st.Empathy })
}

// NetworkStrain returns the arithmetic mean of peer strain scalars, or 0 with
// no peers.
func (s *SyncManager) NetworkStrain() float64 {
	return s.mean(func(st *EmpathyState) float64 { return st.Strain })
}

// NetworkHealth returns the arithmetic mean of peer health scalars, or 0 with
// no peers.
func (s *SyncManager) NetworkHealth() float64 {
	return s.mean(func(st *EmpathyState) float64 { return st.Health })
}

func (s *SyncManager) mean(field func(*EmpathyState) float64) float64 {
	s.RLock()
	defer s.RUnlock()

	if len(s.states) == 0 {
		return 0
	}

	sum := 0.0
	for _, st := range s.states {
		sum += field(st)
	}

	return sum / float64(len(s.states))
}

// Len returns the number of peers with a recorded state.
func (s *SyncManager) Len() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.states)
}

// Snapshot returns a deep copy of the per-peer states, for reconciliation
// into the persisted collective state.
func (s *SyncManager) Snapshot() map[string]*EmpathyState {
	s.RLock()
	defer s.RUnlock()

	out := make(map[string]*EmpathyState, len(s.states))
	for id, st := range s.states {
		cp := *st
		out[id] = &cp
	}

	return out
}

// Restore replaces the manager contents with a previously exported snapshot.
// Restore(Snapshot()) is loss-free.
func (s *SyncManager) Restore(snapshot map[string]*EmpathyState) {
	s.Lock()
	defer s.Unlock()

	s.states = make(map[string]*EmpathyState, len(snapshot))
	for id, st := range snapshot {
		cp := *st
		s.states[id] = &cp
	}
}
