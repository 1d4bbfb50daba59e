package gossip

import (
	"testing"
	"time"

	"github.com/opsmesh/opsmesh/src/common"
	"github.com/opsmesh/opsmesh/src/consensus"
	"github.com/opsmesh/opsmesh/src/identity"
	"github.com/opsmesh/opsmesh/src/netstate"
	"github.com/opsmesh/opsmesh/src/peers"
	"github.com/opsmesh/opsmesh/src/trust"
)

type testNode struct {
	id     *identity.Identity
	table  *peers.Table
	ledger *trust.Ledger
	sync   *netstate.SyncManager
	votes  *consensus.Engine
	trans  *InmemTransport
	engine *Engine
}

func newTestNode(t *testing.T, moniker string, bootstrapAddrs []string) *testNode {
	logger := common.NewTestEntry(t)

	id, err := identity.Generate(moniker)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	table := peers.NewTable()
	ledger := trust.NewLedger(logger)
	syncMgr := netstate.NewSyncManager(logger)
	votes := consensus.NewEngine(consensus.NewInmemHistory(100), ledger, logger)
	_, trans := NewInmemTransport("")

	engine := NewEngine(id, table, ledger, syncMgr, votes, trans,
		50*time.Millisecond, bootstrapAddrs, logger)

	return &testNode{
		id:     id,
		table:  table,
		ledger: ledger,
		sync:   syncMgr,
		votes:  votes,
		trans:  trans,
		engine: engine,
	}
}

func connect(a, b *testNode) {
	a.trans.Connect(b.trans.LocalAddr(), b.trans)
	b.trans.Connect(a.trans.LocalAddr(), a.trans)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDiscovery(t *testing.T) {
	alice := newTestNode(t, "alice", nil)
	bob := newTestNode(t, "bob", []string{alice.trans.LocalAddr()})
	connect(alice, bob)

	if err := alice.engine.Start(); err != nil {
		t.Fatalf("err: %v", err)
	}
	defer alice.engine.Shutdown()

	if err := bob.engine.Start(); err != nil {
		t.Fatalf("err: %v", err)
	}
	defer bob.engine.Shutdown()

	// Bob announces to his bootstrap address; alice replies with her own
	// announce, so both tables converge.
	waitFor(t, "alice to discover bob", func() bool {
		_, ok := alice.table.Get(bob.id.PeerID())
		return ok
	})
	waitFor(t, "bob to discover alice", func() bool {
		_, ok := bob.table.Get(alice.id.PeerID())
		return ok
	})

	peer, _ := alice.table.Get(bob.id.PeerID())
	if peer.Moniker != "bob" {
		t.Fatalf("expected moniker bob, got %s", peer.Moniker)
	}

	// Authenticated traffic earns trust above the neutral baseline.
	waitFor(t, "bob to earn trust", func() bool {
		return alice.ledger.GetScore(bob.id.PeerID()).Overall > trust.Neutral
	})

	waitFor(t, "heartbeats to mark bob connected", func() bool {
		return alice.engine.ConnectedPeerCount() == 1
	})
}

func TestEmpathyPropagation(t *testing.T) {
	alice := newTestNode(t, "alice", nil)
	bob := newTestNode(t, "bob", []string{alice.trans.LocalAddr()})
	connect(alice, bob)

	alice.engine.Start()
	defer alice.engine.Shutdown()
	bob.engine.Start()
	defer bob.engine.Shutdown()

	waitFor(t, "alice to discover bob", func() bool {
		_, ok := alice.table.Get(bob.id.PeerID())
		return ok
	})

	err := bob.engine.PublishEmpathy(netstate.EmpathyState{
		Empathy: 0.8,
		Strain:  0.3,
		Health:  0.9,
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	waitFor(t, "alice to aggregate bob's state", func() bool {
		return alice.sync.Len() == 1
	})

	if e := alice.sync.NetworkEmpathy(); e != 0.8 {
		t.Fatalf("expected network empathy 0.8, got %f", e)
	}
}

func TestVotePropagation(t *testing.T) {
	alice := newTestNode(t, "alice", nil)
	bob := newTestNode(t, "bob", []string{alice.trans.LocalAddr()})
	connect(alice, bob)

	alice.engine.Start()
	defer alice.engine.Shutdown()
	bob.engine.Start()
	defer bob.engine.Shutdown()

	waitFor(t, "bob to discover alice", func() bool {
		_, ok := bob.table.Get(alice.id.PeerID())
		return ok
	})

	// Alice holds the open proposal; bob only gossips his vote on its ID.
	// A single vote satisfies the rule, completing the record.
	record := alice.votes.SubmitProposal("restart service foo", time.Minute, consensus.MajorityOf(1))

	err := bob.engine.PublishVote(record.ID, consensus.Vote{
		Choice: consensus.Approve,
		Weight: 1,
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	waitFor(t, "alice to record bob's vote", func() bool {
		expl := alice.votes.Explanation(record.ID)
		return expl != nil && expl.TotalVotes == 1
	})

	expl := alice.votes.Explanation(record.ID)
	if len(expl.DissentingPeers) != 0 {
		t.Fatalf("bob approved, dissenting = %v", expl.DissentingPeers)
	}
}

func TestForgedSenderIsDropped(t *testing.T) {
	alice := newTestNode(t, "alice", nil)
	mallory := newTestNode(t, "mallory", nil)
	connect(alice, mallory)

	alice.engine.Start()
	defer alice.engine.Shutdown()

	victim, _ := identity.Generate("victim")

	// A message signed by mallory but claiming the victim's identity.
	msg, err := mallory.engine.newMessage(AnnounceMsg, AnnouncePayload{
		PeerID:    victim.PeerID(),
		Moniker:   "victim",
		NetAddr:   mallory.trans.LocalAddr(),
		PubKeyHex: mallory.id.PublicKeyHex(),
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	msg.SenderID = victim.PeerID()

	if err := mallory.trans.Send(alice.trans.LocalAddr(), msg); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Give the consume loop a chance, then check nothing was mutated.
	time.Sleep(200 * time.Millisecond)

	if _, ok := alice.table.Get(victim.PeerID()); ok {
		t.Fatalf("forged announce should not create a peer record")
	}
	if s := alice.ledger.GetScore(victim.PeerID()); s.MessagesReceived != 0 {
		t.Fatalf("forged announce should not count as an interaction")
	}
}

func TestTamperedPayloadIsDropped(t *testing.T) {
	alice := newTestNode(t, "alice", nil)
	bob := newTestNode(t, "bob", nil)
	connect(alice, bob)

	alice.engine.Start()
	defer alice.engine.Shutdown()

	msg, err := bob.engine.newMessage(AnnounceMsg, AnnouncePayload{
		PeerID:    bob.id.PeerID(),
		Moniker:   "bob",
		NetAddr:   bob.trans.LocalAddr(),
		PubKeyHex: bob.id.PublicKeyHex(),
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	// Flip a payload byte after signing.
	msg.Payload = append([]byte{}, msg.Payload...)
	msg.Payload[0] ^= 0xFF

	if err := bob.trans.Send(alice.trans.LocalAddr(), msg); err != nil {
		t.Fatalf("err: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if _, ok := alice.table.Get(bob.id.PeerID()); ok {
		t.Fatalf("tampered announce should not create a peer record")
	}
	if s := alice.ledger.GetScore(bob.id.PeerID()); s.MessagesReceived != 0 {
		t.Fatalf("tampered announce should not count as an interaction")
	}
}

func TestInmemTransportSend(t *testing.T) {
	addr1, trans1 := NewInmemTransport("")
	addr2, trans2 := NewInmemTransport("")

	trans1.Connect(addr2, trans2)

	msg := Message{Type: HeartbeatMsg, SenderID: "0XABC"}

	if err := trans1.Send(addr2, msg); err != nil {
		t.Fatalf("err: %v", err)
	}

	select {
	case got := <-trans2.Consumer():
		if got.SenderID != msg.SenderID {
			t.Fatalf("unexpected sender %s", got.SenderID)
		}
	case <-time.After(time.Second):
		t.Fatalf("message never arrived")
	}

	// Unknown target fails.
	if err := trans1.Send("nope", msg); err == nil {
		t.Fatalf("sending to an unknown target should error")
	}

	if addr1 == addr2 {
		t.Fatalf("transports should get distinct addresses")
	}
}

func TestMessagePayloadRoundTrip(t *testing.T) {
	payload := AnnouncePayload{
		PeerID:          "0XABC",
		Moniker:         "alice",
		NetAddr:         "127.0.0.1:1337",
		PubKeyHex:       "0XDEF",
		ProtocolVersion: "1",
	}

	data, err := marshalPayload(payload)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	var decoded AnnouncePayload
	if err := unmarshalPayload(data, &decoded); err != nil {
		t.Fatalf("err: %v", err)
	}

	if decoded != payload {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestTargetsExcludeSelfAndDedup(t *testing.T) {
	node := newTestNode(t, "alice", []string{"b:1", "b:1", "c:1"})

	targets := node.engine.targets()

	seen := map[string]int{}
	for _, addr := range targets {
		seen[addr]++
		if addr == node.trans.LocalAddr() {
			t.Fatalf("targets should not include the local address")
		}
	}
	if seen["b:1"] != 1 {
		t.Fatalf("duplicate bootstrap address should be deduplicated: %v", targets)
	}
}
