package gossip

import (
	"sync"
	"time"

	"github.com/opsmesh/opsmesh/src/common"
	"github.com/opsmesh/opsmesh/src/consensus"
	"github.com/opsmesh/opsmesh/src/identity"
	"github.com/opsmesh/opsmesh/src/netstate"
	"github.com/opsmesh/opsmesh/src/peers"
	"github.com/opsmesh/opsmesh/src/trust"
	"github.com/opsmesh/opsmesh/src/version"
	"github.com/sirupsen/logrus"
)

const (
	// LivenessWindowMultiplier scales the heartbeat interval into the window
	// within which a peer's LastSeen counts as connected.
	LivenessWindowMultiplier = 3

	// InteractionDelta is the trust adjustment applied for every
	// authenticated message received from a peer.
	InteractionDelta = 0.01
)

// VoteSink receives votes that arrive over gossip. The consensus engine
// implements it.
type VoteSink interface {
	CastVote(consensusID string, vote consensus.Vote) error
}

// Engine handles peer discovery, heartbeat liveness, and dissemination of
// empathy state and votes. Every inbound identity claim must match the
// signature over the announced payload; unauthenticated or mismatched claims
// are dropped without creating or mutating any peer record.
type Engine struct {
	id      *identity.Identity
	table   *peers.Table
	ledger  *trust.Ledger
	syncMgr *netstate.SyncManager
	votes   VoteSink
	trans   Transport

	heartbeatInterval time.Duration
	bootstrapAddrs    []string

	controlTimer *ControlTimer
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	logger *logrus.Entry
}

// NewEngine wires a gossip Engine. bootstrapAddrs are endpoints announced to
// before any peer is known.
func NewEngine(
	id *identity.Identity,
	table *peers.Table,
	ledger *trust.Ledger,
	syncMgr *netstate.SyncManager,
	votes VoteSink,
	trans Transport,
	heartbeatInterval time.Duration,
	bootstrapAddrs []string,
	logger *logrus.Entry,
) *Engine {
	return &Engine{
		id:                id,
		table:             table,
		ledger:            ledger,
		syncMgr:           syncMgr,
		votes:             votes,
		trans:             trans,
		heartbeatInterval: heartbeatInterval,
		bootstrapAddrs:    bootstrapAddrs,
		controlTimer:      NewRandomControlTimer(),
		shutdownCh:        make(chan struct{}),
		logger:            logger.WithField("component", "gossip"),
	}
}

// Start binds the transport, announces this node, and launches the consume
// and heartbeat loops.
func (e *Engine) Start() error {
	e.trans.Listen()

	if err := e.AnnounceSelf(); err != nil {
		e.logger.WithError(err).Warn("Initial announce failed")
	}

	e.wg.Add(2)

	go func() {
		defer e.wg.Done()
		e.consumeLoop()
	}()

	go func() {
		defer e.wg.Done()
		e.heartbeatLoop()
	}()

	return nil
}

// Shutdown stops the background loops and closes the transport.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		close(e.shutdownCh)
		e.controlTimer.Shutdown()
		e.trans.Close()
	})
	e.wg.Wait()
}

// LocalAddr returns the transport's advertised address.
func (e *Engine) LocalAddr() string {
	return e.trans.LocalAddr()
}

// ConnectedPeerCount returns the number of peers whose last_seen falls within
// the liveness window. Peers outside the window are considered disconnected
// but are not removed from the table.
func (e *Engine) ConnectedPeerCount() int {
	window := time.Duration(LivenessWindowMultiplier) * e.heartbeatInterval
	return e.table.AliveCount(window, time.Now())
}

// AnnounceSelf broadcasts this node's identity to bootstrap endpoints and all
// known peers.
func (e *Engine) AnnounceSelf() error {
	msg, err := e.newMessage(AnnounceMsg, AnnouncePayload{
		PeerID:          e.id.PeerID(),
		Moniker:         e.id.Moniker,
		NetAddr:         e.trans.LocalAddr(),
		PubKeyHex:       e.id.PublicKeyHex(),
		ProtocolVersion: version.ProtocolVersion,
	})
	if err != nil {
		return err
	}

	e.trans.Broadcast(e.targets(), msg)

	return nil
}

// PublishEmpathy gossips this node's own wellbeing metrics.
func (e *Engine) PublishEmpathy(state netstate.EmpathyState) error {
	state.PeerID = e.id.PeerID()

	msg, err := e.newMessage(EmpathyMsg, EmpathyPayload{State: state})
	if err != nil {
		return err
	}

	e.trans.Broadcast(e.targets(), msg)

	return nil
}

// PublishVote gossips this node's vote on an open proposal.
func (e *Engine) PublishVote(consensusID string, vote consensus.Vote) error {
	vote.PeerID = e.id.PeerID()

	msg, err := e.newMessage(VoteMsg, VotePayload{
		ConsensusID: consensusID,
		Vote:        vote,
	})
	if err != nil {
		return err
	}

	e.trans.Broadcast(e.targets(), msg)

	return nil
}

// targets returns the deduplicated set of endpoints to gossip to: bootstrap
// addresses plus every known peer's address.
func (e *Engine) targets() []string {
	seen := map[string]bool{e.trans.LocalAddr(): true}
	targets := []string{}

	for _, addr := range e.bootstrapAddrs {
		if !seen[addr] {
			seen[addr] = true
			targets = append(targets, addr)
		}
	}

	for _, peer := range e.table.Snapshot() {
		if !seen[peer.NetAddr] {
			seen[peer.NetAddr] = true
			targets = append(targets, peer.NetAddr)
		}
	}

	return targets
}

func (e *Engine) newMessage(t MessageType, payload interface{}) (Message, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return Message{}, err
	}

	sig, err := e.id.Sign(data)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:      t,
		SenderID:  e.id.PeerID(),
		PubKeyHex: e.id.PublicKeyHex(),
		Payload:   data,
		Signature: sig,
		SentAt:    time.Now(),
	}, nil
}

func (e *Engine) heartbeatLoop() {
	go e.controlTimer.Run(e.heartbeatInterval)

	for {
		select {
		case <-e.controlTimer.tickCh:
			if err := e.sendHeartbeat(); err != nil {
				e.logger.WithError(err).Debug("Heartbeat failed")
			}
		case <-e.shutdownCh:
			return
		}
	}
}

func (e *Engine) sendHeartbeat() error {
	msg, err := e.newMessage(HeartbeatMsg, HeartbeatPayload{
		PeerID: e.id.PeerID(),
		SentAt: time.Now(),
	})
	if err != nil {
		return err
	}

	e.trans.Broadcast(e.targets(), msg)

	return nil
}

func (e *Engine) consumeLoop() {
	for {
		select {
		case msg := <-e.trans.Consumer():
			e.handleMessage(msg)
		case <-e.shutdownCh:
			return
		}
	}
}

// handleMessage authenticates an inbound message and dispatches it. Any
// failure before authentication succeeds results in a silent drop: no peer
// record is created or mutated.
func (e *Engine) handleMessage(msg Message) {
	if msg.SenderID == e.id.PeerID() {
		return
	}

	pubBytes, err := common.DecodeFromString(msg.PubKeyHex)
	if err != nil {
		e.logger.WithField("sender", msg.SenderID).Debug("Dropping message with undecodable public key")
		return
	}

	if identity.PeerIDFromPubBytes(pubBytes) != msg.SenderID {
		e.logger.WithField("sender", msg.SenderID).Debug("Dropping message with mismatched identity claim")
		return
	}

	if !identity.Verify(msg.PubKeyHex, msg.Payload, msg.Signature) {
		e.logger.WithField("sender", msg.SenderID).Debug("Dropping message with bad signature")
		return
	}

	e.ledger.RecordInteraction(msg.SenderID, InteractionDelta)

	now := time.Now()

	switch msg.Type {
	case AnnounceMsg:
		e.handleAnnounce(msg, now)
	case HeartbeatMsg:
		e.table.Touch(msg.SenderID, now)
	case EmpathyMsg:
		e.handleEmpathy(msg, now)
	case VoteMsg:
		e.handleVote(msg, now)
	default:
		e.logger.WithField("type", int(msg.Type)).Debug("Dropping message of unknown type")
	}
}

func (e *Engine) handleAnnounce(msg Message, now time.Time) {
	var payload AnnouncePayload
	if err := unmarshalPayload(msg.Payload, &payload); err != nil {
		e.logger.WithError(err).Debug("Dropping malformed announce")
		return
	}

	// The signed payload must announce the same key as the envelope,
	// otherwise a valid signature could introduce someone else's identity.
	if payload.PubKeyHex != msg.PubKeyHex {
		e.logger.WithField("sender", msg.SenderID).Debug("Dropping announce for foreign key")
		return
	}

	peer := peers.NewPeer(payload.PubKeyHex, payload.NetAddr, payload.Moniker)
	peer.ProtocolVersion = payload.ProtocolVersion
	peer.LastSeen = now
	peer.Connected = true

	isNew := e.table.Upsert(peer)

	if isNew {
		e.logger.WithFields(logrus.Fields{
			"peer_id":  peer.ID,
			"moniker":  peer.Moniker,
			"net_addr": peer.NetAddr,
		}).Info("Discovered peer")

		// Announce back so the new peer learns about us too.
		if err := e.AnnounceSelf(); err != nil {
			e.logger.WithError(err).Debug("Reply announce failed")
		}
	}
}

func (e *Engine) handleEmpathy(msg Message, now time.Time) {
	var payload EmpathyPayload
	if err := unmarshalPayload(msg.Payload, &payload); err != nil {
		e.logger.WithError(err).Debug("Dropping malformed empathy update")
		return
	}

	// A peer can only report its own wellbeing.
	payload.State.PeerID = msg.SenderID
	payload.State.UpdatedAt = now

	e.syncMgr.Update(payload.State)
	e.table.Touch(msg.SenderID, now)
}

func (e *Engine) handleVote(msg Message, now time.Time) {
	var payload VotePayload
	if err := unmarshalPayload(msg.Payload, &payload); err != nil {
		e.logger.WithError(err).Debug("Dropping malformed vote")
		return
	}

	// A peer can only vote as itself.
	payload.Vote.PeerID = msg.SenderID

	if err := e.votes.CastVote(payload.ConsensusID, payload.Vote); err != nil {
		e.logger.WithError(err).WithField("consensus_id", payload.ConsensusID).Debug("Ignoring vote")
	}

	e.table.Touch(msg.SenderID, now)
}
