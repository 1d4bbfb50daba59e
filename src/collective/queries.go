package collective

import (
	"fmt"
	"time"

	"github.com/opsmesh/opsmesh/src/consensus"
	"github.com/opsmesh/opsmesh/src/peers"
	"github.com/opsmesh/opsmesh/src/remedy"
	"github.com/opsmesh/opsmesh/src/trust"
)

// Status is the externally visible summary of the node and its view of the
// network. All fields are best-effort: with no data yet they hold zeros
// rather than failing.
type Status struct {
	Enabled             bool    `json:"enabled"`
	NodeID              string  `json:"node_id"`
	Moniker             string  `json:"moniker"`
	ConnectedPeers      int     `json:"connected_peers"`
	TotalPeers          int     `json:"total_peers"`
	NetworkEmpathy      float64 `json:"network_empathy"`
	NetworkStrain       float64 `json:"network_strain"`
	NetworkHealth       float64 `json:"network_health"`
	OpenProposals       int     `json:"open_proposals"`
	HistoricalDecisions int     `json:"historical_decisions"`
}

// PeerTrust pairs a peer record with this node's trust in it.
type PeerTrust struct {
	Peer  peers.Peer  `json:"peer"`
	Score trust.Score `json:"score"`
}

// GetStatus answers the operator status query. It never blocks background
// tasks for longer than the individual component read locks.
func (c *Collective) GetStatus() Status {
	status := Status{
		Enabled: c.conf.Enabled,
		NodeID:  c.id.PeerID(),
		Moniker: c.id.Moniker,
	}

	if !c.conf.Enabled {
		return status
	}

	status.ConnectedPeers = c.gossip.ConnectedPeerCount()
	status.TotalPeers = c.table.Len()
	status.NetworkEmpathy = c.syncMgr.NetworkEmpathy()
	status.NetworkStrain = c.syncMgr.NetworkStrain()
	status.NetworkHealth = c.syncMgr.NetworkHealth()
	status.OpenProposals = c.engine.OpenCount()
	status.HistoricalDecisions = c.engine.HistoryCount()

	return status
}

// GetPeerTrust returns the peer record and trust score for a known peer, and
// nil for a peer absent from the peer table, even though the trust ledger
// would answer any ID with a default score.
func (c *Collective) GetPeerTrust(peerID string) *PeerTrust {
	peer, ok := c.table.Get(peerID)
	if !ok {
		return nil
	}

	return &PeerTrust{
		Peer:  peer,
		Score: c.ledger.GetScore(peerID),
	}
}

// Peers returns a copy of every known peer record.
func (c *Collective) Peers() []*peers.Peer {
	snapshot := c.table.Snapshot()

	out := make([]*peers.Peer, 0, len(snapshot))
	for _, peer := range snapshot {
		out = append(out, peer)
	}

	return out
}

// GetConsensusExplanation answers the audit query for a completed decision.
// It returns nil when the record is unknown or holds no votes.
func (c *Collective) GetConsensusExplanation(consensusID string) *consensus.Explanation {
	return c.engine.Explanation(consensusID)
}

// Propose opens a proposal on the collective, completing once a majority of
// the currently known collective (this node plus its peers) has voted, or at
// the deadline.
func (c *Collective) Propose(topic string, timeout time.Duration) *consensus.Record {
	rule := consensus.MajorityOf(c.table.Len() + 1)
	return c.engine.SubmitProposal(topic, timeout, rule)
}

// AddReasoning appends a note to an open proposal's reasoning trail.
func (c *Collective) AddReasoning(consensusID, note string) error {
	return c.engine.AddReasoning(consensusID, note)
}

// Vote records this node's own vote locally and gossips it to peers.
func (c *Collective) Vote(consensusID string, choice consensus.VoteChoice, weight float64) error {
	vote := consensus.Vote{
		PeerID: c.id.PeerID(),
		Choice: choice,
		Weight: weight,
		CastAt: time.Now(),
	}

	if err := c.engine.CastVote(consensusID, vote); err != nil {
		return err
	}

	if c.conf.Enabled {
		if err := c.gossip.PublishVote(consensusID, vote); err != nil {
			c.logger.WithError(err).Warn("Publishing vote failed")
		}
	}

	return nil
}

// ApplyRemediation validates and applies one externally produced remediation
// action. Validation failures are returned as errors; policy refusals come
// back as results with Applied=false.
func (c *Collective) ApplyRemediation(action *remedy.Action) (remedy.Result, error) {
	if err := c.remedy.Validate(action); err != nil {
		return remedy.Result{}, fmt.Errorf("invalid remediation %s: %v", action.ID, err)
	}

	return c.remedy.Apply(action), nil
}

// GenerateRemediationReport aggregates a batch of remediation results.
func (c *Collective) GenerateRemediationReport(results []remedy.Result) remedy.Report {
	return c.remedy.GenerateReport(results)
}
