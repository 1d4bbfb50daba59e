package trust

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// Neutral is the baseline trust score assigned to a peer the first time
	// it is referenced, and the fixed point that decay converges to.
	Neutral = 0.5

	// DefaultDecayFactor is the fraction of the distance to Neutral that each
	// decay pass removes.
	DefaultDecayFactor = 0.1
)

// Score is this node's confidence in a peer's votes and state contributions.
// Overall is always clamped to [0,1].
type Score struct {
	PeerID           string    `json:"peer_id"`
	Overall          float64   `json:"overall"`
	MessagesReceived int       `json:"messages_received"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Ledger holds one trust Score per peer. Unknown peers are not an error:
// every lookup answers with a neutral score, creating the entry on first
// reference. The ledger owns its own lock.
type Ledger struct {
	sync.RWMutex
	scores      map[string]*Score
	decayFactor float64
	logger      *logrus.Entry
}

// NewLedger returns an empty ledger with the default decay factor.
func NewLedger(logger *logrus.Entry) *Ledger {
	return &Ledger{
		scores:      make(map[string]*Score),
		decayFactor: DefaultDecayFactor,
		logger:      logger,
	}
}

// GetScore returns the stored score for the peer, creating a neutral entry if
// the peer is unknown.
func (l *Ledger) GetScore(peerID string) Score {
	l.Lock()
	defer l.Unlock()

	return *l.getOrCreate(peerID)
}

// getOrCreate must be called with the write lock held.
func (l *Ledger) getOrCreate(peerID string) *Score {
	score, ok := l.scores[peerID]
	if !ok {
		score = &Score{
			PeerID:    peerID,
			Overall:   Neutral,
			UpdatedAt: time.Now(),
		}
		l.scores[peerID] = score
	}
	return score
}

// RecordInteraction adjusts the peer's score by delta and increments its
// message counter. The result is clamped to [0,1].
func (l *Ledger) RecordInteraction(peerID string, delta float64) Score {
	l.Lock()
	defer l.Unlock()

	score := l.getOrCreate(peerID)
	score.Overall = clamp(score.Overall + delta)
	score.MessagesReceived++
	score.UpdatedAt = time.Now()

	return *score
}

// Reset returns the peer's score to the neutral baseline.
func (l *Ledger) Reset(peerID string) {
	l.Lock()
	defer l.Unlock()

	score := l.getOrCreate(peerID)
	score.Overall = Neutral
	score.UpdatedAt = time.Now()
}

// ResetAll returns every score to the neutral baseline.
func (l *Ledger) ResetAll() {
	l.Lock()
	defer l.Unlock()

	now := time.Now()
	for _, score := range l.scores {
		score.Overall = Neutral
		score.UpdatedAt = now
	}
}

// ApplyDecay moves every stored score a fixed fraction of the way toward the
// neutral baseline, so a peer that stops interacting gradually loses outsized
// trust or distrust. Decay never removes an entry, and never crosses the
// baseline.
func (l *Ledger) ApplyDecay() {
	l.Lock()
	defer l.Unlock()

	for _, score := range l.scores {
		score.Overall = clamp(score.Overall + (Neutral-score.Overall)*l.decayFactor)
	}

	if l.logger != nil {
		l.logger.WithField("scores", len(l.scores)).Debug("Applied trust decay")
	}
}

// Len returns the number of scored peers.
func (l *Ledger) Len() int {
	l.RLock()
	defer l.RUnlock()

	return len(l.scores)
}

// Snapshot returns a deep copy of all scores, for reconciliation into the
// persisted collective state.
func (l *Ledger) Snapshot() map[string]*Score {
	l.RLock()
	defer l.RUnlock()

	out := make(map[string]*Score, len(l.scores))
	for id, score := range l.scores {
		cp := *score
		out[id] = &cp
	}

	return out
}

// Restore replaces the ledger contents with a previously exported snapshot.
// Restore(Snapshot()) is loss-free.
func (l *Ledger) Restore(snapshot map[string]*Score) {
	l.Lock()
	defer l.Unlock()

	l.scores = make(map[string]*Score, len(snapshot))
	for id, score := range snapshot {
		cp := *score
		cp.Overall = clamp(cp.Overall)
		l.scores[id] = &cp
	}
}

func clamp(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
