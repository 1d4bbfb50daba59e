// Package consensus implements the weighted-approval voting engine: open
// proposals collect at most one vote per peer, transition to Completed when a
// decision rule is satisfied or their deadline elapses, and are then archived
// into a bounded history from which explanation queries are answered.
package consensus

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ugorji/go/codec"
)

// VoteChoice is the stance a peer takes on a proposal.
type VoteChoice int

const (
	// Approve counts toward both the raw and the trust-weighted approval.
	Approve VoteChoice = iota
	// Reject places the voter in the dissenting-peers list.
	Reject
	// Abstain counts toward the vote total but neither approval figure's
	// numerator.
	Abstain
)

// String ...
func (v VoteChoice) String() string {
	switch v {
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	case Abstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so choices serialize as their
// names.
func (v VoteChoice) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *VoteChoice) UnmarshalText(text []byte) error {
	switch string(text) {
	case "approve":
		*v = Approve
	case "reject":
		*v = Reject
	case "abstain":
		*v = Abstain
	default:
		return fmt.Errorf("unknown vote choice %q", string(text))
	}
	return nil
}

// Vote is a single peer's stance on a proposal, immutable once cast. Weight
// is the voter's self-declared weight; it is combined with the voter's earned
// trust when computing weighted approval.
type Vote struct {
	PeerID string     `json:"peer_id"`
	Choice VoteChoice `json:"choice"`
	Weight float64    `json:"weight"`
	CastAt time.Time  `json:"cast_at"`
}

// Status is the lifecycle state of a consensus record.
type Status int

const (
	// Open records accept votes.
	Open Status = iota
	// Completed records are archived and immutable.
	Completed
)

// String ...
func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*s = Open
	case "completed":
		*s = Completed
	default:
		return fmt.Errorf("unknown status %q", string(text))
	}
	return nil
}

// Record is a single decision subject to peer voting. Votes holds the last
// recorded vote per peer. Once Status is Completed the record never changes
// again.
type Record struct {
	ID        string           `json:"id"`
	Topic     string           `json:"topic"`
	Votes     map[string]*Vote `json:"votes"`
	Reasoning []string         `json:"reasoning"`
	CreatedAt time.Time        `json:"created_at"`
	Deadline  time.Time        `json:"deadline"`
	Status    Status           `json:"status"`
}

// copy returns a deep copy of the record.
func (r *Record) copy() *Record {
	cp := *r
	cp.Votes = make(map[string]*Vote, len(r.Votes))
	for id, vote := range r.Votes {
		v := *vote
		cp.Votes[id] = &v
	}
	cp.Reasoning = append([]string{}, r.Reasoning...)
	return &cp
}

// Marshal encodes the record with a canonical JSON codec, suitable for
// storage.
func (r *Record) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(r); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes a record produced by Marshal.
func (r *Record) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(r)
}

// Explanation is the audit view of a completed record. It pairs the raw
// approval percentage with the trust-weighted one on purpose: "most peers
// agreed" and "the peers with earned trust agreed" can diverge, and an
// operator needs to see both.
type Explanation struct {
	ConsensusID        string   `json:"consensus_id"`
	ApprovalPercentage float64  `json:"approval_percentage"`
	WeightedApproval   float64  `json:"weighted_approval"`
	DissentingPeers    []string `json:"dissenting_peers"`
	ReasoningTrail     []string `json:"reasoning_trail"`
	TotalVotes         int      `json:"total_votes"`
}
