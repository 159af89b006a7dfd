// Package adminapi exposes a thin, read-only HTTP surface over the control
// plane's subsystems: liveness/readiness/health checks backed by
// pkg/metrics' component registry, a metrics scrape endpoint, and JSON
// views of Registry, Orchestrator, and SLO state. The only endpoint that
// changes subsystem state is /v1/balancer/select, whose Select call counts
// an active connection on the balancer. The package is never imported by
// core packages (grounded on the
// chi+cors wiring style used for the retrieval pack's gateway routers).
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cuemby/controlplane/pkg/loadbalancer"
	"github.com/cuemby/controlplane/pkg/metrics"
	"github.com/cuemby/controlplane/pkg/orchestrator"
	"github.com/cuemby/controlplane/pkg/registry"
	"github.com/cuemby/controlplane/pkg/slo"
)

// RegistryView exposes the read-only registry queries the admin surface needs.
type RegistryView interface {
	Lookup(name string, filter registry.Filter) []registry.Instance
}

// OrchestratorView exposes the read-only orchestrator queries the admin
// surface needs.
type OrchestratorView interface {
	Get(id string) (*orchestrator.ExecutionView, error)
}

// SloView exposes the read-only SLO queries the admin surface needs.
type SloView interface {
	List(serviceName string) ([]*slo.Slo, error)
}

// Balancer is the selection call the admin surface exercises directly
// (selection itself only mutates the balancer's internal round-robin/
// connection-tracking state, never Registry or execution state).
type Balancer interface {
	Select(service string, candidates []loadbalancer.Instance, strategy loadbalancer.Strategy, clientKey string) (*loadbalancer.Instance, error)
}

// Server is the admin HTTP surface.
type Server struct {
	router *chi.Mux
	http   *http.Server

	registry     RegistryView
	orchestrator OrchestratorView
	slos         SloView
	balancer     Balancer
}

// New builds a Server bound to addr, wiring the given read-only views.
// Any view may be nil; its endpoints then respond 503.
func New(addr string, reg RegistryView, orch OrchestratorView, sloRepo SloView, balancer Balancer) *Server {
	s := &Server{registry: reg, orchestrator: orch, slos: sloRepo, balancer: balancer}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/v1/registry/instances", s.handleRegistryInstances)
	r.Get("/v1/orchestrator/executions/{id}", s.handleOrchestratorExecution)
	r.Get("/v1/slo", s.handleSloList)
	r.Get("/v1/balancer/select", s.handleBalancerSelect)

	s.router = r
	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	metrics.RegisterComponent("admin_api", true, "")
	return s
}

// ListenAndServe blocks serving the admin surface until the server is closed.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Close shuts the admin server down.
func (s *Server) Close() error {
	return s.http.Close()
}

func (s *Server) handleRegistryInstances(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		http.Error(w, "registry not wired", http.StatusServiceUnavailable)
		return
	}
	name := r.URL.Query().Get("name")
	instances := s.registry.Lookup(name, registry.Filter{})
	writeJSON(w, http.StatusOK, instances)
}

func (s *Server) handleOrchestratorExecution(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		http.Error(w, "orchestrator not wired", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "id")
	view, err := s.orchestrator.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSloList(w http.ResponseWriter, r *http.Request) {
	if s.slos == nil {
		http.Error(w, "slo store not wired", http.StatusServiceUnavailable)
		return
	}
	list, err := s.slos.List(r.URL.Query().Get("service"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleBalancerSelect(w http.ResponseWriter, r *http.Request) {
	if s.balancer == nil || s.registry == nil {
		http.Error(w, "balancer not wired", http.StatusServiceUnavailable)
		return
	}
	service := r.URL.Query().Get("service")
	if service == "" {
		http.Error(w, "service query param required", http.StatusBadRequest)
		return
	}
	strategy := loadbalancer.Strategy(r.URL.Query().Get("strategy"))
	if strategy == "" {
		strategy = loadbalancer.RoundRobin
	}
	clientKey := r.URL.Query().Get("client_key")

	healthy := s.registry.Lookup(service, registry.Filter{Status: registry.StatusHealthy})
	candidates := make([]loadbalancer.Instance, 0, len(healthy))
	for _, inst := range healthy {
		candidates = append(candidates, loadbalancer.Instance{ID: inst.ID, Weight: inst.Weight})
	}

	selected, err := s.balancer.Select(service, candidates, strategy, clientKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, selected)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
