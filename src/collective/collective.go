// Package collective wires the trust, consensus, gossip, sync, and
// remediation components together, drives the periodic background tasks, and
// answers the status and explanation queries exposed to the outer system.
package collective

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/opsmesh/opsmesh/src/config"
	"github.com/opsmesh/opsmesh/src/consensus"
	"github.com/opsmesh/opsmesh/src/gossip"
	"github.com/opsmesh/opsmesh/src/identity"
	"github.com/opsmesh/opsmesh/src/netstate"
	"github.com/opsmesh/opsmesh/src/peers"
	"github.com/opsmesh/opsmesh/src/remedy"
	"github.com/opsmesh/opsmesh/src/trust"
	"github.com/sirupsen/logrus"
)

// EmpathySource provides the local node's own wellbeing metrics. The
// telemetry subsystem implements it; the values are treated as opaque
// scalars.
type EmpathySource interface {
	LocalEmpathy() netstate.EmpathyState
}

// Collective is the orchestrator. It owns all components, drives five
// independent periodic tasks (gossip heartbeat inside the gossip engine,
// empathy sync, trust decay, consensus cleanup, state persistence), and
// reconciles component state into one persisted snapshot. Components lock
// independently; no task ever holds two component locks at once.
type Collective struct {
	conf   *config.Config
	logger *logrus.Entry

	id      *identity.Identity
	table   *peers.Table
	ledger  *trust.Ledger
	engine  *consensus.Engine
	syncMgr *netstate.SyncManager
	gossip  *gossip.Engine
	remedy  *remedy.Engine

	empathySource EmpathySource

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewCollective assembles a Collective from configuration and a transport.
// It loads or generates the node identity, loads or creates the persisted
// state, and wires every component from the restored state.
func NewCollective(conf *config.Config, trans gossip.Transport) (*Collective, error) {
	logger := conf.Logger()

	var id *identity.Identity
	var err error

	if conf.Key != nil {
		id = identity.New(conf.Key, conf.Moniker)
	} else {
		id, err = identity.LoadOrGenerate(conf.Keyfile(), conf.Moniker, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing identity: %v", err)
		}
	}

	table := peers.NewTable()
	ledger := trust.NewLedger(logger)
	syncMgr := netstate.NewSyncManager(logger)

	var history consensus.History
	if conf.Store {
		history, err = consensus.NewBadgerHistory(conf.DatabaseDir, conf.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("opening consensus history: %v", err)
		}
	} else {
		history = consensus.NewInmemHistory(conf.HistoryLimit)
	}

	engine := consensus.NewEngine(history, ledger, logger)

	c := &Collective{
		conf:       conf,
		logger:     logger,
		id:         id,
		table:      table,
		ledger:     ledger,
		engine:     engine,
		syncMgr:    syncMgr,
		remedy:     remedy.NewEngine(id.PeerID(), conf.AutoRemediation, nil, ledger, logger),
		shutdownCh: make(chan struct{}),
	}

	c.restoreState()

	bootstrapAddrs := c.loadBootstrapPeers()

	c.gossip = gossip.NewEngine(id, table, ledger, syncMgr, engine, trans,
		conf.HeartbeatInterval, bootstrapAddrs, logger)

	return c, nil
}

// restoreState loads the persisted aggregate state, if any, into the working
// components. A missing file means a fresh node; a corrupt file is surfaced
// as a warning and the node starts fresh rather than failing.
func (c *Collective) restoreState() {
	state, err := LoadState(c.conf.StateFile())
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.WithError(err).Warn("Cannot restore state, starting fresh")
		}
		return
	}

	c.table.Restore(state.Peers)
	c.ledger.Restore(state.TrustLedger)
	c.syncMgr.Restore(state.NetworkEmpathy)

	// The Badger history restores itself from its own database; only the
	// in-memory history needs replaying from the snapshot.
	if !c.conf.Store {
		for _, record := range state.ConsensusHistory {
			if err := c.engine.History().Append(record); err != nil {
				c.logger.WithError(err).Warn("Cannot replay consensus record")
			}
		}
	}

	c.logger.WithFields(logrus.Fields{
		"peers":     len(state.Peers),
		"scores":    len(state.TrustLedger),
		"decisions": len(state.ConsensusHistory),
	}).Debug("Restored collective state")
}

// loadBootstrapPeers reads peers.json, if present, seeds the peer table with
// its entries, and returns their network addresses.
func (c *Collective) loadBootstrapPeers() []string {
	store := peers.NewJSONPeers(c.conf.DataDir)

	bootstrap, err := store.Peers()
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.WithError(err).Warn("Cannot read bootstrap peers")
		}
		return nil
	}

	addrs := []string{}
	for _, peer := range bootstrap {
		c.table.Upsert(peer)
		addrs = append(addrs, peer.NetAddr)
	}

	return addrs
}

// SetEmpathySource plugs in the telemetry subsystem that produces this node's
// own wellbeing metrics.
func (c *Collective) SetEmpathySource(source EmpathySource) {
	c.empathySource = source
}

// ID returns the node's identity.
func (c *Collective) ID() *identity.Identity {
	return c.id
}

// Remedy returns the remediation engine, the input boundary for externally
// produced remediation actions.
func (c *Collective) Remedy() *remedy.Engine {
	return c.remedy
}

// Start launches gossip and the periodic background tasks. When the
// collective is disabled by configuration, Start performs no networking and
// returns immediately; all queries then report the disabled status.
func (c *Collective) Start() error {
	if !c.conf.Enabled {
		c.logger.Info("Collective disabled, not starting")
		return nil
	}

	if err := c.gossip.Start(); err != nil {
		return fmt.Errorf("starting gossip: %v", err)
	}

	c.runPeriodic("trust_decay", c.conf.DecayInterval, func() error {
		c.ledger.ApplyDecay()
		if removed := c.table.Prune(c.conf.PeerRetention, time.Now()); len(removed) > 0 {
			c.logger.WithField("removed", len(removed)).Info("Pruned stale peers")
		}
		return nil
	})

	c.runPeriodic("consensus_cleanup", c.conf.CleanupInterval, func() error {
		if closed := c.engine.CleanupTimeouts(time.Now()); closed > 0 {
			c.logger.WithField("closed", closed).Debug("Timed out proposals")
		}
		return nil
	})

	c.runPeriodic("state_persistence", c.conf.PersistInterval, c.Persist)

	c.runPeriodic("empathy_sync", c.conf.EmpathySyncInterval, c.syncEmpathy)

	c.logger.WithFields(logrus.Fields{
		"node_id": c.id.PeerID(),
		"moniker": c.id.Moniker,
		"addr":    c.gossip.LocalAddr(),
	}).Info("Collective started")

	return nil
}

// runPeriodic launches an independent background task with its own interval
// and its own failure containment: a failing tick is logged and retried on
// the next scheduled tick, never terminating the process.
func (c *Collective) runPeriodic(name string, interval time.Duration, fn func() error) {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := fn(); err != nil {
					c.logger.WithError(err).WithField("task", name).Error("Periodic task failed")
				}
			case <-c.shutdownCh:
				return
			}
		}
	}()
}

// syncEmpathy publishes the local node's wellbeing metrics and records them
// in the local aggregate.
func (c *Collective) syncEmpathy() error {
	if c.empathySource == nil {
		return nil
	}

	state := c.empathySource.LocalEmpathy()
	state.PeerID = c.id.PeerID()

	c.syncMgr.Update(state)

	return c.gossip.PublishEmpathy(state)
}

// Persist reconciles every component into one root snapshot and writes it
// atomically. Component locks are taken one at a time, so readers are never
// blocked for the duration of a full snapshot.
func (c *Collective) Persist() error {
	records, err := c.engine.History().List()
	if err != nil {
		return fmt.Errorf("listing consensus history: %v", err)
	}

	state := &State{
		NodeID:           c.id.PeerID(),
		Peers:            c.table.Snapshot(),
		TrustLedger:      c.ledger.Snapshot(),
		ConsensusHistory: records,
		NetworkEmpathy:   c.syncMgr.Snapshot(),
		Timestamp:        time.Now(),
	}

	return state.Save(c.conf.StateFile())
}

// Shutdown stops the background tasks, persists a final snapshot, and closes
// the components.
func (c *Collective) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Info("Collective shutting down")

		close(c.shutdownCh)

		if c.conf.Enabled {
			c.gossip.Shutdown()
		}

		if err := c.Persist(); err != nil {
			c.logger.WithError(err).Error("Final persistence failed")
		}

		if err := c.engine.History().Close(); err != nil {
			c.logger.WithError(err).Error("Closing consensus history")
		}
	})

	c.wg.Wait()
}
