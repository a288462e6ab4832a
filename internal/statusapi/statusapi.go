// Package statusapi is a read-only introspection HTTP server: health,
// the configured chain registry, and live budget-controller readings.
// Adapted from the teacher's internal/api.Server — same gorilla/mux
// router, the same logging/CORS middleware pair, the same
// http.Server timeout configuration and ListenAndServe/Shutdown
// lifecycle — generalized from order/balance/info endpoints to the
// registry/budget introspection this system exposes instead.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Magma-Layer/dln-taker/internal/capability"
	"github.com/Magma-Layer/dln-taker/internal/chainregistry"
)

// Server is the status introspection HTTP server.
type Server struct {
	registry *chainregistry.Registry
	logger   *zap.Logger
	server   *http.Server
}

// NewServer constructs a Server bound to port, reading live state from
// registry on every request (the registry's entries are immutable;
// only their budget controllers' counters move).
func NewServer(port int, registry *chainregistry.Registry, logger *zap.Logger) *Server {
	return &Server{
		registry: registry,
		logger:   logger,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start runs the server until Stop is called or it fails to bind.
func (s *Server) Start() error {
	s.server.Handler = s.setupRoutes()
	s.logger.Info("starting status API", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status API: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping status API")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	router.HandleFunc("/health", s.healthCheck).Methods("GET")
	router.HandleFunc("/registry", s.getRegistry).Methods("GET")
	router.HandleFunc("/budget", s.getBudget).Methods("GET")

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type chainView struct {
	ChainID              uint64 `json:"chain_id"`
	Engine               string `json:"engine"`
	Disabled             bool   `json:"disabled"`
	HardCapConfirmations uint64 `json:"hard_cap_confirmations"`
	OrderProcessor       string `json:"order_processor"`
}

func (s *Server) getRegistry(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.All()
	out := make([]chainView, 0, len(entries))
	for _, e := range entries {
		engine := "evm"
		if e.Engine == capability.EngineSolana {
			engine = "solana"
		}
		out = append(out, chainView{
			ChainID:              e.ChainID,
			Engine:               engine,
			Disabled:             e.Disabled,
			HardCapConfirmations: e.HardCapConfirmations,
			OrderProcessor:       e.OrderProcessor,
		})
	}
	s.writeJSON(w, out)
}

type budgetView struct {
	ChainID              uint64  `json:"chain_id"`
	TVLCapUSD            float64 `json:"tvl_cap_usd"`
	TVLInFlightUSD       float64 `json:"tvl_in_flight_usd"`
	NonFinalizedCapUSD   float64 `json:"non_finalized_cap_usd"`
	NonFinalizedInFlight float64 `json:"non_finalized_in_flight_usd"`
}

func (s *Server) getBudget(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.All()
	out := make([]budgetView, 0, len(entries))
	for _, e := range entries {
		v := budgetView{ChainID: e.ChainID}
		if e.TVLBudget != nil {
			v.TVLCapUSD = e.TVLBudget.CapUSD()
			v.TVLInFlightUSD = e.TVLBudget.InFlightUSD()
		}
		if e.NonFinalizedBudget != nil {
			v.NonFinalizedCapUSD = e.NonFinalizedBudget.CapUSD()
			v.NonFinalizedInFlight = e.NonFinalizedBudget.InFlightUSD()
		}
		out = append(out, v)
	}
	s.writeJSON(w, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode status API response", zap.Error(err))
	}
}
