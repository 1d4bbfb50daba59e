// Package service exposes the collective's read queries and the remediation
// input boundary over HTTP, for consumption by the operator CLI/RPC layer.
package service

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/opsmesh/opsmesh/src/collective"
	"github.com/opsmesh/opsmesh/src/remedy"
	"github.com/sirupsen/logrus"
)

// Service registers JSON handlers for the collective's externally visible
// operations.
type Service struct {
	bindAddress string
	collective  *collective.Collective
	logger      *logrus.Entry
}

// NewService creates the service and registers its handlers with the
// DefaultServeMux of the http package. It is possible that another server in
// the same process is simultaneously using the DefaultServeMux, in which case
// the handlers will be accessible from both servers.
func NewService(bindAddress string, c *collective.Collective, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		collective:  c,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering opsmesh API handlers")
	http.HandleFunc("/status", s.makeHandler(s.GetStatus))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/trust/", s.makeHandler(s.GetPeerTrust))
	http.HandleFunc("/consensus/", s.makeHandler(s.GetConsensusExplanation))
	http.HandleFunc("/remediation", s.makeHandler(s.PostRemediation))
	http.HandleFunc("/remediation/report", s.makeHandler(s.PostRemediationReport))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when another server has already been started with the
// DefaultServeMux and the same address:port combination.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving opsmesh API")

	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStatus ...
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.collective.GetStatus())
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.collective.Peers())
}

// GetPeerTrust answers /trust/{peer_id}. Unknown peers are a 404, not an
// error.
func (s *Service) GetPeerTrust(w http.ResponseWriter, r *http.Request) {
	peerID := strings.TrimPrefix(r.URL.Path, "/trust/")

	peerTrust := s.collective.GetPeerTrust(peerID)
	if peerTrust == nil {
		http.Error(w, "unknown peer", http.StatusNotFound)
		return
	}

	writeJSON(w, peerTrust)
}

// GetConsensusExplanation answers /consensus/{consensus_id}.
func (s *Service) GetConsensusExplanation(w http.ResponseWriter, r *http.Request) {
	consensusID := strings.TrimPrefix(r.URL.Path, "/consensus/")

	explanation := s.collective.GetConsensusExplanation(consensusID)
	if explanation == nil {
		http.Error(w, "no completed consensus record", http.StatusNotFound)
		return
	}

	writeJSON(w, explanation)
}

// PostRemediation accepts one externally produced remediation action,
// validates it, and runs it through the gates. Policy refusals are successful
// calls whose result carries applied=false.
func (s *Service) PostRemediation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var action remedy.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		s.logger.WithError(err).Error("Decoding remediation action")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.collective.ApplyRemediation(&action)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, result)
}

// PostRemediationReport aggregates a batch of remediation results.
func (s *Service) PostRemediationReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var results []remedy.Result
	if err := json.NewDecoder(r.Body).Decode(&results); err != nil {
		s.logger.WithError(err).Error("Decoding remediation results")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, s.collective.GenerateRemediationReport(results))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
