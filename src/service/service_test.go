package service

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/opsmesh/opsmesh/src/collective"
	"github.com/opsmesh/opsmesh/src/common"
	"github.com/opsmesh/opsmesh/src/config"
	"github.com/opsmesh/opsmesh/src/gossip"
	"github.com/opsmesh/opsmesh/src/remedy"
)

func newTestService(t *testing.T) (*Service, *collective.Collective, func()) {
	dir, err := ioutil.TempDir("", "opsmesh")
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	conf := config.NewTestConfig(t)
	conf.SetDataDir(dir)

	_, trans := gossip.NewInmemTransport("")

	node, err := collective.NewCollective(conf, trans)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("err: %v", err)
	}

	// Build the struct directly: NewService registers on the
	// DefaultServeMux, which panics on a second registration within the same
	// test binary.
	service := &Service{
		bindAddress: conf.ServiceAddr,
		collective:  node,
		logger:      common.NewTestEntry(t),
	}

	return service, node, func() {
		node.Shutdown()
		os.RemoveAll(dir)
	}
}

func TestGetStatusHandler(t *testing.T) {
	service, node, cleanup := newTestService(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()

	service.GetStatus(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var status collective.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("err: %v", err)
	}

	if status.NodeID != node.ID().PeerID() {
		t.Fatalf("status node ID mismatch: %s", status.NodeID)
	}
}

func TestGetPeerTrustHandlerUnknownPeer(t *testing.T) {
	service, _, cleanup := newTestService(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/trust/0XNOBODY", nil)
	w := httptest.NewRecorder()

	service.GetPeerTrust(w, req)

	if w.Code != 404 {
		t.Fatalf("unknown peer should be a 404, got %d", w.Code)
	}
}

func TestGetConsensusExplanationHandlerUnknown(t *testing.T) {
	service, _, cleanup := newTestService(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/consensus/nope", nil)
	w := httptest.NewRecorder()

	service.GetConsensusExplanation(w, req)

	if w.Code != 404 {
		t.Fatalf("unknown record should be a 404, got %d", w.Code)
	}
}

func TestPostRemediationHandler(t *testing.T) {
	service, _, cleanup := newTestService(t)
	defer cleanup()

	// Method gate.
	w := httptest.NewRecorder()
	service.PostRemediation(w, httptest.NewRequest("GET", "/remediation", nil))
	if w.Code != 405 {
		t.Fatalf("GET should be a 405, got %d", w.Code)
	}

	// Invalid action.
	bad, _ := json.Marshal(remedy.Action{
		ID:         "a1",
		TargetNode: remedy.TargetAll,
		Type:       remedy.ParameterReweight,
		ParameterAdjustments: map[string]float64{
			remedy.ParamScrutinyThreshold: 5.0,
		},
	})
	w = httptest.NewRecorder()
	service.PostRemediation(w, httptest.NewRequest("POST", "/remediation", bytes.NewReader(bad)))
	if w.Code != 400 {
		t.Fatalf("invalid action should be a 400, got %d", w.Code)
	}

	// Valid action, refused by policy.
	good, _ := json.Marshal(remedy.Action{
		ID:         "a2",
		TargetNode: remedy.TargetAll,
		Type:       remedy.ParameterReweight,
		ParameterAdjustments: map[string]float64{
			remedy.ParamScrutinyThreshold: 0.5,
		},
	})
	w = httptest.NewRecorder()
	service.PostRemediation(w, httptest.NewRequest("POST", "/remediation", bytes.NewReader(good)))
	if w.Code != 200 {
		t.Fatalf("policy refusal is still a 200, got %d", w.Code)
	}

	var result remedy.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("err: %v", err)
	}
	if result.Applied {
		t.Fatalf("auto-remediation is off by default, action should be refused")
	}
}

func TestPostRemediationReportHandler(t *testing.T) {
	service, _, cleanup := newTestService(t)
	defer cleanup()

	payload, _ := json.Marshal([]remedy.Result{
		{ActionID: "a", Applied: true},
		{ActionID: "b", Applied: false},
	})

	w := httptest.NewRecorder()
	service.PostRemediationReport(w, httptest.NewRequest("POST", "/remediation/report", bytes.NewReader(payload)))

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var report remedy.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("err: %v", err)
	}
	if report.Summary != "Partial success: 1 applied, 1 failed/skipped" {
		t.Fatalf("unexpected summary: %q", report.Summary)
	}
}
