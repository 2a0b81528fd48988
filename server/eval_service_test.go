package server

import (
	"strings"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/rivet/ast"
	"github.com/chazu/rivet/vm"
)

// ---------------------------------------------------------------------------
// Evaluate — happy paths
// ---------------------------------------------------------------------------

func TestEvaluate_SimpleInteger(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(&EvaluateRequest{
		Tree: mainProgram(ast.Int(42)),
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !resp.Msg.Success {
		t.Fatalf("Evaluate was not successful: %v", resp.Msg.Errors)
	}
	if resp.Msg.Result != "42" {
		t.Errorf("Evaluate result = %q, want %q", resp.Msg.Result, "42")
	}
	if resp.Msg.ID == "" {
		t.Error("Evaluate should return an ID")
	}
	if resp.Msg.Steps == 0 {
		t.Error("Evaluate should report executed steps")
	}
}

func TestEvaluate_Factorial(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(&EvaluateRequest{Tree: factorialProgram(5)}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !resp.Msg.Success || resp.Msg.Result != "120" {
		t.Errorf("Evaluate = %+v, want 120", resp.Msg)
	}
}

func TestEvaluate_Float(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(&EvaluateRequest{
		Tree: mainProgram(ast.Binary("+", ast.Float(1), ast.Float(2))),
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if resp.Msg.Result != "3.0" {
		t.Errorf("Evaluate result = %q, want %q", resp.Msg.Result, "3.0")
	}
}

func TestEvaluate_Unit(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(&EvaluateRequest{Tree: mainProgram()}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if resp.Msg.Result != "()" {
		t.Errorf("Evaluate result = %q, want %q", resp.Msg.Result, "()")
	}
}

func TestEvaluate_Disassemble(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(&EvaluateRequest{
		Tree:        mainProgram(ast.Int(1)),
		Disassemble: true,
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !strings.Contains(resp.Msg.Listing, "; Instructions:") {
		t.Errorf("listing missing header: %q", resp.Msg.Listing)
	}
}

// ---------------------------------------------------------------------------
// Evaluate — failures
// ---------------------------------------------------------------------------

func TestEvaluate_MissingTree(t *testing.T) {
	svc := newTestEvalService()

	_, err := svc.Evaluate(bg(), connectReq(&EvaluateRequest{}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", connect.CodeOf(err))
	}
}

func TestEvaluate_CheckErrors(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(&EvaluateRequest{
		Tree: mainProgram(ast.Binary("+", ast.Path("a"), ast.Path("b"))),
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if resp.Msg.Success {
		t.Fatal("Evaluate should fail")
	}
	if len(resp.Msg.Errors) < 2 || !strings.Contains(resp.Msg.Errors[0], "Unassigned name: a") {
		t.Errorf("errors = %q, want every checker message", resp.Msg.Errors)
	}
}

func TestEvaluate_MoveError(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(&EvaluateRequest{
		Tree: mainProgram(ast.Let("x", ast.Int(5)), ast.Let("y", ast.Path("x")), ast.Path("x")),
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if resp.Msg.Success || len(resp.Msg.Errors) != 1 || !strings.Contains(resp.Msg.Errors[0], "x was moved") {
		t.Errorf("response = %+v, want a move error naming x", resp.Msg)
	}
}

func TestEvaluate_RuntimeError(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Evaluate(bg(), connectReq(&EvaluateRequest{
		Tree: mainProgram(ast.Binary("/", ast.Int(1), ast.Int(0))),
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if resp.Msg.Success || len(resp.Msg.Errors) != 1 || !strings.Contains(resp.Msg.Errors[0], "Division by zero") {
		t.Errorf("response = %+v, want division by zero", resp.Msg)
	}
}

func TestEvaluate_StepLimit(t *testing.T) {
	svc := NewEvalService(testPool, nil, 10000, 1000)

	resp, err := svc.Evaluate(bg(), connectReq(&EvaluateRequest{
		Tree: mainProgram(ast.Stmt(ast.While(ast.Bool(true), ast.Block()))),
	}))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if resp.Msg.Success || len(resp.Msg.Errors) != 1 || !strings.Contains(resp.Msg.Errors[0], "step limit exceeded") {
		t.Errorf("response = %+v, want step limit error", resp.Msg)
	}
}

// ---------------------------------------------------------------------------
// Check and Compile
// ---------------------------------------------------------------------------

func TestCheck(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Check(bg(), connectReq(&CheckRequest{Tree: factorialProgram(3)}))
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !resp.Msg.OK || len(resp.Msg.Errors) != 0 {
		t.Errorf("Check = %+v, want ok", resp.Msg)
	}

	resp, err = svc.Check(bg(), connectReq(&CheckRequest{
		Tree: mainProgram(ast.If(ast.Int(1), ast.Block(), nil)),
	}))
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if resp.Msg.OK || len(resp.Msg.Errors) == 0 {
		t.Errorf("Check = %+v, want errors", resp.Msg)
	}
}

func TestCheck_MissingTree(t *testing.T) {
	svc := newTestEvalService()

	_, err := svc.Check(bg(), connectReq(&CheckRequest{}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", connect.CodeOf(err))
	}
}

func TestCompile(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Compile(bg(), connectReq(&CompileRequest{Tree: factorialProgram(4)}))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	if !resp.Msg.Success {
		t.Fatalf("Compile failed: %v", resp.Msg.Errors)
	}
	code, err := vm.UnmarshalProgram(resp.Msg.Image)
	if err != nil {
		t.Fatalf("UnmarshalProgram: %v", err)
	}
	if len(code) != resp.Msg.Instructions {
		t.Errorf("image has %d instructions, response says %d", len(code), resp.Msg.Instructions)
	}
	m, err := vm.New(code)
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	if v, err := m.Run(); err != nil || v != int64(24) {
		t.Errorf("Run = %v, %v; want 24", v, err)
	}
}
