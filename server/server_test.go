package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/rivet/ast"
	"github.com/chazu/rivet/store"
)

func newTestServer(t *testing.T, opts ...ServerOption) *httptest.Server {
	t.Helper()
	s := New(opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Stop()
	})
	return srv
}

func TestServer_EvaluateOverCBOR(t *testing.T) {
	srv := newTestServer(t, WithWorkers(2))

	client := connect.NewClient[EvaluateRequest, EvaluateResponse](
		srv.Client(), srv.URL+EvaluateProcedure, connect.WithCodec(cborCodec{}),
	)
	resp, err := client.CallUnary(bg(), connect.NewRequest(&EvaluateRequest{Tree: factorialProgram(5)}))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if !resp.Msg.Success || resp.Msg.Result != "120" {
		t.Errorf("response = %+v, want 120", resp.Msg)
	}
}

func TestServer_EvaluateOverJSON(t *testing.T) {
	srv := newTestServer(t)

	body, err := json.Marshal(EvaluateRequest{Tree: mainProgram(
		ast.LetMut("x", ast.Int(5)),
		ast.Let("y", ast.RefMut(ast.Path("x"))),
		ast.Stmt(ast.Assign(ast.Deref(ast.Path("y")), ast.Int(10))),
		ast.Path("x"),
	)})
	if err != nil {
		t.Fatal(err)
	}
	httpResp, err := http.Post(srv.URL+EvaluateProcedure, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", httpResp.StatusCode)
	}

	var resp EvaluateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Result != "10" {
		t.Errorf("response = %+v, want 10", resp)
	}
}

func TestServer_CheckMissingTree(t *testing.T) {
	srv := newTestServer(t)

	client := connect.NewClient[CheckRequest, CheckResponse](
		srv.Client(), srv.URL+CheckProcedure, connect.WithCodec(cborCodec{}),
	)
	_, err := client.CallUnary(bg(), connect.NewRequest(&CheckRequest{}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", connect.CodeOf(err))
	}
}

func TestServer_CachesCompiledPrograms(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	srv := newTestServer(t, WithStore(st))

	client := connect.NewClient[EvaluateRequest, EvaluateResponse](
		srv.Client(), srv.URL+EvaluateProcedure, connect.WithCodec(cborCodec{}),
	)
	req := &EvaluateRequest{Tree: factorialProgram(6)}

	first, err := client.CallUnary(bg(), connect.NewRequest(req))
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := client.CallUnary(bg(), connect.NewRequest(req))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first.Msg.Cached || !second.Msg.Cached {
		t.Errorf("cached = %v then %v, want false then true", first.Msg.Cached, second.Msg.Cached)
	}
	if second.Msg.Result != "720" {
		t.Errorf("result = %q, want 720", second.Msg.Result)
	}
	if first.Msg.ID == second.Msg.ID {
		t.Error("evaluations should get distinct IDs")
	}
}
