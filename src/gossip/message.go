package gossip

import (
	"bytes"
	"fmt"
	"time"

	"github.com/opsmesh/opsmesh/src/consensus"
	"github.com/opsmesh/opsmesh/src/netstate"
	"github.com/ugorji/go/codec"
)

// MessageType discriminates gossip payloads.
type MessageType int

const (
	// AnnounceMsg introduces a node's identity to its peers.
	AnnounceMsg MessageType = iota
	// HeartbeatMsg re-asserts liveness.
	HeartbeatMsg
	// EmpathyMsg carries a node's self-reported wellbeing metrics.
	EmpathyMsg
	// VoteMsg carries a vote on an open proposal.
	VoteMsg
)

// String ...
func (m MessageType) String() string {
	switch m {
	case AnnounceMsg:
		return "announce"
	case HeartbeatMsg:
		return "heartbeat"
	case EmpathyMsg:
		return "empathy"
	case VoteMsg:
		return "vote"
	default:
		return "unknown"
	}
}

// Message is the signed envelope exchanged between peers. The signature is
// computed over the canonical payload bytes with the sender's private key;
// SenderID must be derivable from PubKeyHex, otherwise the message is
// dropped.
type Message struct {
	Type      MessageType `json:"type"`
	SenderID  string      `json:"sender_id"`
	PubKeyHex string      `json:"pub_key_hex"`
	Payload   []byte      `json:"payload"`
	Signature string      `json:"signature"`
	SentAt    time.Time   `json:"sent_at"`
}

// AnnouncePayload is the body of an AnnounceMsg.
type AnnouncePayload struct {
	PeerID          string `json:"peer_id"`
	Moniker         string `json:"moniker"`
	NetAddr         string `json:"net_addr"`
	PubKeyHex       string `json:"pub_key_hex"`
	ProtocolVersion string `json:"protocol_version"`
}

// HeartbeatPayload is the body of a HeartbeatMsg.
type HeartbeatPayload struct {
	PeerID string    `json:"peer_id"`
	SentAt time.Time `json:"sent_at"`
}

// EmpathyPayload is the body of an EmpathyMsg.
type EmpathyPayload struct {
	State netstate.EmpathyState `json:"state"`
}

// VotePayload is the body of a VoteMsg.
type VotePayload struct {
	ConsensusID string         `json:"consensus_id"`
	Vote        consensus.Vote `json:"vote"`
}

// marshalPayload encodes a payload with a canonical JSON codec so that the
// bytes being signed are deterministic.
func marshalPayload(payload interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(payload); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// unmarshalPayload decodes payload bytes produced by marshalPayload.
func unmarshalPayload(data []byte, payload interface{}) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("decoding gossip payload: %v", err)
	}

	return nil
}
