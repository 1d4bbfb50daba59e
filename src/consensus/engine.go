package consensus

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsmesh/opsmesh/src/trust"
	"github.com/sirupsen/logrus"
)

// DecisionRule decides whether an open record has gathered enough support to
// complete before its deadline. It is evaluated after every vote.
type DecisionRule func(record *Record) bool

// MajorityOf returns a DecisionRule that completes a record once votes from
// more than half of total expected voters have been recorded.
func MajorityOf(total int) DecisionRule {
	return func(record *Record) bool {
		return total > 0 && 2*len(record.Votes) > total
	}
}

type proposal struct {
	record *Record
	rule   DecisionRule
}

// Engine tracks open proposals and archives completed ones. It owns its own
// lock; the history and the trust ledger are locked separately, one at a
// time.
type Engine struct {
	sync.RWMutex
	open    map[string]*proposal
	history History
	ledger  *trust.Ledger
	logger  *logrus.Entry
}

// NewEngine creates a consensus Engine archiving into history and weighting
// explanations with the given trust ledger.
func NewEngine(history History, ledger *trust.Ledger, logger *logrus.Entry) *Engine {
	return &Engine{
		open:    make(map[string]*proposal),
		history: history,
		ledger:  ledger,
		logger:  logger,
	}
}

// SubmitProposal opens a new proposal with the given deadline timeout and
// optional decision rule, and returns a copy of the new record.
func (e *Engine) SubmitProposal(topic string, timeout time.Duration, rule DecisionRule) *Record {
	now := time.Now()

	record := &Record{
		ID:        uuid.New().String(),
		Topic:     topic,
		Votes:     make(map[string]*Vote),
		Reasoning: []string{},
		CreatedAt: now,
		Deadline:  now.Add(timeout),
		Status:    Open,
	}

	e.Lock()
	e.open[record.ID] = &proposal{record: record, rule: rule}
	e.Unlock()

	e.logger.WithFields(logrus.Fields{
		"consensus_id": record.ID,
		"topic":        topic,
		"deadline":     record.Deadline,
	}).Debug("Opened proposal")

	return record.copy()
}

// AddReasoning appends a note to an open record's reasoning trail.
func (e *Engine) AddReasoning(consensusID string, note string) error {
	e.Lock()
	defer e.Unlock()

	prop, ok := e.open[consensusID]
	if !ok {
		return fmt.Errorf("no open proposal %s", consensusID)
	}

	prop.record.Reasoning = append(prop.record.Reasoning, note)

	return nil
}

// CastVote records a vote on an open proposal. A later vote from the same
// peer replaces the earlier one. If the proposal's decision rule is satisfied
// by the new vote, the record completes immediately.
func (e *Engine) CastVote(consensusID string, vote Vote) error {
	if vote.Weight < 0 {
		return fmt.Errorf("negative vote weight %f", vote.Weight)
	}

	if vote.CastAt.IsZero() {
		vote.CastAt = time.Now()
	}

	e.Lock()

	prop, ok := e.open[consensusID]
	if !ok {
		e.Unlock()
		return fmt.Errorf("no open proposal %s", consensusID)
	}

	v := vote
	prop.record.Votes[vote.PeerID] = &v

	var completed *Record
	if prop.rule != nil && prop.rule(prop.record) {
		completed = e.closeLocked(prop.record, "decision rule satisfied")
	}

	e.Unlock()

	if completed != nil {
		e.archive(completed)
	}

	return nil
}

// closeLocked marks the record Completed and removes it from the open set.
// The caller holds the engine lock; archival happens after the lock is
// released.
func (e *Engine) closeLocked(record *Record, why string) *Record {
	record.Status = Completed
	record.Reasoning = append(record.Reasoning, fmt.Sprintf("completed: %s", why))
	delete(e.open, record.ID)
	return record
}

func (e *Engine) archive(record *Record) {
	if err := e.history.Append(record); err != nil {
		e.logger.WithError(err).WithField("consensus_id", record.ID).Error("Archiving consensus record")
	}

	e.logger.WithFields(logrus.Fields{
		"consensus_id": record.ID,
		"votes":        len(record.Votes),
	}).Debug("Completed proposal")
}

// CleanupTimeouts completes every open proposal whose deadline has passed,
// and returns how many it closed. The orchestrator runs this once per minute;
// it is the only clock-driven mechanism that forces a record out of Open.
func (e *Engine) CleanupTimeouts(now time.Time) int {
	e.Lock()

	expired := []*Record{}
	for _, prop := range e.open {
		if now.After(prop.record.Deadline) {
			expired = append(expired, e.closeLocked(prop.record, "deadline elapsed"))
		}
	}

	e.Unlock()

	for _, record := range expired {
		e.archive(record)
	}

	return len(expired)
}

// OpenCount returns the number of proposals currently accepting votes.
func (e *Engine) OpenCount() int {
	e.RLock()
	defer e.RUnlock()

	return len(e.open)
}

// HistoryCount returns the number of archived records.
func (e *Engine) HistoryCount() int {
	return e.history.Len()
}

// History exposes the archive, for persistence reconciliation.
func (e *Engine) History() History {
	return e.history
}

// Explanation answers the audit query for a completed record. It returns nil
// if the record is unknown or has zero votes, avoiding a division by zero.
func (e *Engine) Explanation(consensusID string) *Explanation {
	record, err := e.history.Get(consensusID)
	if err != nil {
		e.logger.WithError(err).WithField("consensus_id", consensusID).Error("Reading consensus record")
		return nil
	}

	if record == nil || len(record.Votes) == 0 {
		return nil
	}

	approveCount := 0
	weightedTotal := 0.0
	weightedApprove := 0.0
	dissenting := []string{}

	for peerID, vote := range record.Votes {
		w := e.ledger.GetScore(peerID).Overall * vote.Weight
		weightedTotal += w

		switch vote.Choice {
		case Approve:
			approveCount++
			weightedApprove += w
		case Reject:
			dissenting = append(dissenting, peerID)
		}
	}

	sort.Strings(dissenting)

	weightedApproval := 0.0
	if weightedTotal > 0 {
		weightedApproval = 100 * weightedApprove / weightedTotal
	}

	return &Explanation{
		ConsensusID:        record.ID,
		ApprovalPercentage: 100 * float64(approveCount) / float64(len(record.Votes)),
		WeightedApproval:   weightedApproval,
		DissentingPeers:    dissenting,
		ReasoningTrail:     append([]string{}, record.Reasoning...),
		TotalVotes:         len(record.Votes),
	}
}
