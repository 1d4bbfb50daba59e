package collective

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/opsmesh/opsmesh/src/consensus"
	"github.com/opsmesh/opsmesh/src/netstate"
	"github.com/opsmesh/opsmesh/src/peers"
	"github.com/opsmesh/opsmesh/src/trust"
)

// State is the aggregate root persisted to disk. It is owned exclusively by
// the Collective: components hold their own working copies, which are
// reconciled into this document only at snapshot time.
type State struct {
	NodeID           string                            `json:"node_id"`
	Peers            map[string]*peers.Peer            `json:"peers"`
	TrustLedger      map[string]*trust.Score           `json:"trust_ledger"`
	ConsensusHistory []*consensus.Record               `json:"consensus_history"`
	NetworkEmpathy   map[string]*netstate.EmpathyState `json:"network_empathy"`
	Timestamp        time.Time                         `json:"timestamp"`
}

// LoadState reads a previously persisted State from path.
func LoadState(path string) (*State, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	state := new(State)
	if err := json.Unmarshal(buf, state); err != nil {
		return nil, fmt.Errorf("decoding state file %s: %v", path, err)
	}

	return state, nil
}

// Save writes the State to path atomically: the document is written to a
// temporary file in the same directory and renamed into place, so a crash
// mid-write never leaves a half-written file visible to the next load.
func (s *State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := ioutil.TempFile(filepath.Dir(path), ".state-*.tmp")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}
