package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/chazu/rivet/ast"
	"github.com/chazu/rivet/compiler"
	"github.com/chazu/rivet/store"
	"github.com/chazu/rivet/vm"
)

// EvalService implements the rivet.v1.EvaluationService procedures.
type EvalService struct {
	pool      *EvalPool
	store     *store.Store
	heapWords int
	stepLimit int
}

// NewEvalService creates an EvalService. st may be nil to compile every
// request from scratch.
func NewEvalService(pool *EvalPool, st *store.Store, heapWords, stepLimit int) *EvalService {
	return &EvalService{
		pool:      pool,
		store:     st,
		heapWords: heapWords,
		stepLimit: stepLimit,
	}
}

// Evaluate checks, compiles and runs a program.
func (s *EvalService) Evaluate(
	ctx context.Context,
	req *connect.Request[EvaluateRequest],
) (*connect.Response[EvaluateResponse], error) {
	tree := req.Msg.Tree
	if tree == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("tree is required"))
	}
	id := uuid.NewString()

	result, err := s.pool.Do(ctx, func() any {
		return s.evaluate(ctx, id, tree, req.Msg.Disassemble)
	})
	if err != nil {
		if cerr := contextError(err); cerr != nil {
			return nil, cerr
		}
		return connect.NewResponse(&EvaluateResponse{
			ID:     id,
			Errors: []string{err.Error()},
		}), nil
	}

	return connect.NewResponse(result.(*EvaluateResponse)), nil
}

// Check type-checks a program without compiling it.
func (s *EvalService) Check(
	ctx context.Context,
	req *connect.Request[CheckRequest],
) (*connect.Response[CheckResponse], error) {
	tree := req.Msg.Tree
	if tree == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("tree is required"))
	}

	errs := compiler.CheckTree(tree)
	return connect.NewResponse(&CheckResponse{
		ID:     uuid.NewString(),
		OK:     len(errs) == 0,
		Errors: errs,
	}), nil
}

// Compile returns the program image of a tree.
func (s *EvalService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	tree := req.Msg.Tree
	if tree == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("tree is required"))
	}

	resp := &CompileResponse{ID: uuid.NewString()}
	code, cached, err := s.compile(tree)
	if err != nil {
		resp.Errors = errorMessages(err)
		return connect.NewResponse(resp), nil
	}
	image, err := vm.MarshalProgram(code)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp.Success = true
	resp.Image = image
	resp.Instructions = len(code)
	resp.Cached = cached
	return connect.NewResponse(resp), nil
}

// evaluate compiles and runs tree, returning an EvaluateResponse.
func (s *EvalService) evaluate(ctx context.Context, id string, tree *ast.Node, disassemble bool) *EvaluateResponse {
	resp := &EvaluateResponse{ID: id}

	code, cached, err := s.compile(tree)
	if err != nil {
		resp.Errors = errorMessages(err)
		return resp
	}
	resp.Cached = cached
	if disassemble {
		resp.Listing = vm.Disassemble(code)
	}

	m, err := vm.New(code,
		vm.WithHeapWords(s.heapWords),
		vm.WithStepLimit(s.stepLimit),
		vm.WithContext(ctx),
	)
	if err != nil {
		resp.Errors = []string{err.Error()}
		return resp
	}
	value, err := m.Run()
	resp.Steps = m.Steps()
	if err != nil {
		log.Debugf("evaluation %s failed: %s", id, err)
		resp.Errors = []string{err.Error()}
		return resp
	}

	resp.Success = true
	resp.Result = vm.FormatHost(value)
	return resp
}

func (s *EvalService) compile(tree *ast.Node) ([]vm.Instruction, bool, error) {
	if s.store != nil {
		return s.store.Compile(tree)
	}
	code, err := compiler.Compile(tree)
	return code, false, err
}

// errorMessages flattens a compile error into client-facing messages.
func errorMessages(err error) []string {
	var ce *compiler.CheckError
	if errors.As(err, &ce) {
		return ce.Errors
	}
	return []string{err.Error()}
}

// contextError maps a cancelled or expired request context to its Connect
// error, or returns nil for any other error.
func contextError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	}
	return nil
}
