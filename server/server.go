package server

import (
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/rivet/store"
	"github.com/chazu/rivet/vm"
)

var log = commonlog.GetLogger("rivet.server")

// Procedure paths of the evaluation service.
const (
	EvaluationServiceName = "rivet.v1.EvaluationService"

	EvaluateProcedure = "/" + EvaluationServiceName + "/Evaluate"
	CheckProcedure    = "/" + EvaluationServiceName + "/Check"
	CompileProcedure  = "/" + EvaluationServiceName + "/Compile"
)

// DefaultStepLimit bounds remote evaluations unless WithStepLimit says
// otherwise.
const DefaultStepLimit = 10_000_000

// RivetServer serves the evaluation service over Connect, gRPC and
// gRPC-Web on a single handler.
type RivetServer struct {
	pool    *EvalPool
	service *EvalService
	mux     *http.ServeMux
}

// ServerOption configures a RivetServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store     *store.Store
	heapWords int
	stepLimit int
	workers   int
}

// WithStore caches compiled programs in st.
func WithStore(st *store.Store) ServerOption {
	return func(c *serverConfig) { c.store = st }
}

// WithHeapWords sets the heap size of every evaluation's machine.
func WithHeapWords(words int) ServerOption {
	return func(c *serverConfig) { c.heapWords = words }
}

// WithStepLimit bounds how many instructions one evaluation may execute.
// Zero means unbounded.
func WithStepLimit(steps int) ServerOption {
	return func(c *serverConfig) { c.stepLimit = steps }
}

// WithWorkers sets how many programs may run concurrently.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// New creates a RivetServer.
func New(opts ...ServerOption) *RivetServer {
	cfg := &serverConfig{
		heapWords: vm.DefaultHeapWords,
		stepLimit: DefaultStepLimit,
		workers:   4,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool := NewEvalPool(cfg.workers)
	svc := NewEvalService(pool, cfg.store, cfg.heapWords, cfg.stepLimit)
	s := &RivetServer{
		pool:    pool,
		service: svc,
		mux:     http.NewServeMux(),
	}

	codecs := []connect.HandlerOption{
		connect.WithCodec(cborCodec{}),
		connect.WithCodec(jsonCodec{}),
	}
	s.mux.Handle(EvaluateProcedure, connect.NewUnaryHandler(EvaluateProcedure, svc.Evaluate, codecs...))
	s.mux.Handle(CheckProcedure, connect.NewUnaryHandler(CheckProcedure, svc.Check, codecs...))
	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, svc.Compile, codecs...))

	log.Debugf("serving %s with %d workers", EvaluationServiceName, cfg.workers)
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *RivetServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *RivetServer) ListenAndServe(addr string) error {
	fmt.Printf("Rivet evaluation server listening on %s\n", addr)
	fmt.Printf("  Connect (HTTP/JSON): http://%s%s\n", addr, EvaluateProcedure)
	fmt.Printf("  gRPC (CBOR):         grpc://%s\n", addr)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the worker pool.
func (s *RivetServer) Stop() {
	s.pool.Stop()
}
