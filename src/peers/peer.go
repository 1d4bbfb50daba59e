package peers

import (
	"time"

	"github.com/opsmesh/opsmesh/src/common"
	"github.com/opsmesh/opsmesh/src/identity"
)

// Peer describes a node known to this one. It is created when a peer is first
// announced; LastSeen and Connected are mutated by the gossip heartbeat
// handling.
type Peer struct {
	ID              string    `json:"id"`
	Moniker         string    `json:"moniker"`
	NetAddr         string    `json:"net_addr"`
	PubKeyHex       string    `json:"pub_key_hex"`
	DiscoveredAt    time.Time `json:"discovered_at"`
	LastSeen        time.Time `json:"last_seen"`
	ProtocolVersion string    `json:"protocol_version"`
	Connected       bool      `json:"connected"`
}

// NewPeer creates a Peer and derives its ID from the public key.
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	peer := &Peer{
		PubKeyHex:    pubKeyHex,
		NetAddr:      netAddr,
		Moniker:      moniker,
		DiscoveredAt: time.Now(),
	}

	peer.computeID()

	return peer
}

// PubKeyBytes returns the raw bytes of the peer's public key.
func (p *Peer) PubKeyBytes() ([]byte, error) {
	return common.DecodeFromString(p.PubKeyHex)
}

func (p *Peer) computeID() error {
	pubKey, err := p.PubKeyBytes()
	if err != nil {
		return err
	}

	p.ID = identity.PeerIDFromPubBytes(pubKey)

	return nil
}
