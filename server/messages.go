package server

import "github.com/chazu/rivet/ast"

// EvaluateRequest asks the server to check, compile and run a program.
type EvaluateRequest struct {
	Tree        *ast.Node `json:"tree" cbor:"1,keyasint"`
	Disassemble bool      `json:"disassemble,omitempty" cbor:"2,keyasint,omitempty"`
}

// EvaluateResponse is the outcome of one evaluation. Errors holds every
// checker message, or the single compile or runtime error.
type EvaluateResponse struct {
	ID      string   `json:"id" cbor:"1,keyasint"`
	Success bool     `json:"success" cbor:"2,keyasint"`
	Result  string   `json:"result,omitempty" cbor:"3,keyasint,omitempty"`
	Errors  []string `json:"errors,omitempty" cbor:"4,keyasint,omitempty"`
	Listing string   `json:"listing,omitempty" cbor:"5,keyasint,omitempty"`
	Steps   int      `json:"steps,omitempty" cbor:"6,keyasint,omitempty"`
	Cached  bool     `json:"cached,omitempty" cbor:"7,keyasint,omitempty"`
}

// CheckRequest asks the server to type-check a program without running it.
type CheckRequest struct {
	Tree *ast.Node `json:"tree" cbor:"1,keyasint"`
}

// CheckResponse lists the checker's findings.
type CheckResponse struct {
	ID     string   `json:"id" cbor:"1,keyasint"`
	OK     bool     `json:"ok" cbor:"2,keyasint"`
	Errors []string `json:"errors,omitempty" cbor:"3,keyasint,omitempty"`
}

// CompileRequest asks the server for a program image.
type CompileRequest struct {
	Tree *ast.Node `json:"tree" cbor:"1,keyasint"`
}

// CompileResponse carries a CBOR program image loadable with
// vm.UnmarshalProgram.
type CompileResponse struct {
	ID           string   `json:"id" cbor:"1,keyasint"`
	Success      bool     `json:"success" cbor:"2,keyasint"`
	Image        []byte   `json:"image,omitempty" cbor:"3,keyasint,omitempty"`
	Instructions int      `json:"instructions,omitempty" cbor:"4,keyasint,omitempty"`
	Cached       bool     `json:"cached,omitempty" cbor:"5,keyasint,omitempty"`
	Errors       []string `json:"errors,omitempty" cbor:"6,keyasint,omitempty"`
}
