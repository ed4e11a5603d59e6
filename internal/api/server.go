// Package api serves the operator surface: health, queue statistics, manual
// re-scans, guest scans, on-demand contract analysis, and prometheus
// metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/txMaestro/web3safetykit/internal/logging"
	"github.com/txMaestro/web3safetykit/internal/queue"
	"github.com/txMaestro/web3safetykit/internal/service"
	"github.com/txMaestro/web3safetykit/internal/storage"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// RequestStats exposes the gateway queue statistics; implemented by
// storage.APIRequestRepository.
type RequestStats interface {
	Stats(ctx context.Context) (*storage.QueueStats, error)
}

// Server is the ops HTTP server
type Server struct {
	router    *mux.Router
	http      *http.Server
	requests  RequestStats
	jobs      *queue.Queue
	guest     *service.GuestScanService
	contracts *service.ContractService
	registry  *prometheus.Registry
	log       *logrus.Entry
}

// ServerConfig wires the ops server
type ServerConfig struct {
	Host      string
	Port      string
	Requests  RequestStats
	Jobs      *queue.Queue
	Guest     *service.GuestScanService
	Contracts *service.ContractService
	Registry  *prometheus.Registry
	RateLimit int
}

// NewServer creates the ops server and registers its routes
func NewServer(cfg *ServerConfig) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		requests:  cfg.Requests,
		jobs:      cfg.Jobs,
		guest:     cfg.Guest,
		contracts: cfg.Contracts,
		registry:  cfg.Registry,
		log:       logging.Component("api"),
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 10
	}
	limiter := NewRateLimiter(rps)
	s.router.Use(limiter.Middleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/queue/stats", s.handleQueueStats).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/wallets/{id}/rescan", s.handleRescan).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/guest-scan", s.handleGuestScan).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/contracts/{chain}/{address}", s.handleContractAnalysis).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start begins serving; blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.http.Addr).Info("ops server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQueueStats reports the persisted queue state: request counts by
// status, completions in the last five minutes, the estimated drain time,
// and analysis job counts.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	requestStats, err := s.requests.Stats(r.Context())
	if err != nil {
		s.log.WithError(err).Error("request stats failed")
		respondError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}

	jobCounts, err := s.jobs.CountByStatus(r.Context())
	if err != nil {
		s.log.WithError(err).Error("job stats failed")
		respondError(w, http.StatusInternalServerError, "failed to read job stats")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"apiRequests":  requestStats,
		"analysisJobs": jobCounts,
	})
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	walletID := mux.Vars(r)["id"]

	job, err := s.jobs.Enqueue(r.Context(), walletID, types.TaskFullScan, nil)
	if err != nil {
		s.log.WithError(err).WithField("walletId", walletID).Error("rescan enqueue failed")
		respondError(w, http.StatusInternalServerError, "failed to enqueue rescan")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
}

func (s *Server) handleGuestScan(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		respondError(w, http.StatusBadRequest, "address is required")
		return
	}

	chainID := types.ChainID(r.URL.Query().Get("chain"))
	if chainID == "" {
		chainID = types.ChainEthereum
	}
	if !chainID.IsSupported() {
		respondError(w, http.StatusBadRequest, "unsupported chain")
		return
	}

	result, err := s.guest.Scan(r.Context(), address, chainID)
	if err != nil {
		s.log.WithError(err).WithField("address", address).Error("guest scan failed")
		respondError(w, http.StatusBadGateway, "guest scan failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleContractAnalysis(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chainID := types.ChainID(vars["chain"])
	if !chainID.IsSupported() {
		respondError(w, http.StatusBadRequest, "unsupported chain")
		return
	}

	analysis, err := s.contracts.Analyze(r.Context(), vars["address"], chainID)
	if err != nil {
		s.log.WithError(err).WithField("address", vars["address"]).Error("contract analysis failed")
		respondError(w, http.StatusBadGateway, "contract analysis failed")
		return
	}

	respondJSON(w, http.StatusOK, analysis)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
