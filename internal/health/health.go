// Package health tracks the liveness of the sampling loops and exposes it
// through the standard gRPC health service.
package health

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/presence.report/internal/timeutil"
)

// DefaultFailThreshold is how many consecutive failures mark a component
// not serving.
const DefaultFailThreshold = 3

// Status is the last known state of one component.
type Status struct {
	Component   string    `json:"component"`
	Serving     bool      `json:"serving"`
	Failures    int       `json:"consecutive_failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastOK      time.Time `json:"last_ok"`
	LastReport  time.Time `json:"last_report"`
	TotalErrors int64     `json:"total_errors"`
}

// Registry records Report calls from the monitors. The whole-server status
// (service "") is SERVING only while every component is.
type Registry struct {
	FailThreshold int

	mu         sync.Mutex
	clock      timeutil.Clock
	components map[string]*Status
	server     *grpchealth.Server
}

// NewRegistry registers components as serving until they report otherwise.
func NewRegistry(clock timeutil.Clock, components ...string) *Registry {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r := &Registry{
		FailThreshold: DefaultFailThreshold,
		clock:         clock,
		components:    make(map[string]*Status),
		server:        grpchealth.NewServer(),
	}
	for _, c := range components {
		r.components[c] = &Status{Component: c, Serving: true}
		r.server.SetServingStatus(c, healthpb.HealthCheckResponse_SERVING)
	}
	r.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return r
}

// Report records the outcome of one step of component. Unknown components
// are added on first report.
func (r *Registry) Report(component string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.components[component]
	if !ok {
		st = &Status{Component: component, Serving: true}
		r.components[component] = st
	}
	now := r.clock.Now()
	st.LastReport = now
	if err == nil {
		st.Failures = 0
		st.LastError = ""
		st.LastOK = now
	} else {
		st.Failures++
		st.TotalErrors++
		st.LastError = err.Error()
	}

	serving := st.Failures < r.threshold()
	if serving != st.Serving {
		log.Printf("[health] %s serving=%v after %d consecutive failure(s)", component, serving, st.Failures)
	}
	st.Serving = serving
	r.server.SetServingStatus(component, servingStatus(serving))

	all := true
	for _, c := range r.components {
		all = all && c.Serving
	}
	r.server.SetServingStatus("", servingStatus(all))
}

func (r *Registry) threshold() int {
	if r.FailThreshold < 1 {
		return DefaultFailThreshold
	}
	return r.FailThreshold
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Snapshot returns every component's status ordered by name.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.components))
	for _, st := range r.components {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// Healthy reports whether every component is serving.
func (r *Registry) Healthy() bool {
	for _, st := range r.Snapshot() {
		if !st.Serving {
			return false
		}
	}
	return true
}

// Register adds the health service to s.
func (r *Registry) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
}

// Server is a gRPC listener carrying only the health service.
type Server struct {
	addr     string
	registry *Registry
	grpc     *grpc.Server
	listener net.Listener
	done     chan struct{}
}

// NewServer returns a server for addr backed by registry.
func NewServer(addr string, registry *Registry) *Server {
	return &Server{addr: addr, registry: registry}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.grpc != nil {
		return errors.New("health server already running")
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health server listen on %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.listener = lis
	s.grpc = grpc.NewServer()
	s.registry.Register(s.grpc)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		log.Printf("[health] gRPC health service listening on %s", lis.Addr())
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Printf("[health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop drains connections and waits for the serve loop to exit.
func (s *Server) Stop() {
	if s.grpc == nil {
		return
	}
	s.registry.server.Shutdown()
	s.grpc.GracefulStop()
	<-s.done
	s.grpc = nil
	log.Printf("[health] gRPC health service stopped")
}
