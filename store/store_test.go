package store

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/chazu/rivet/ast"
	"github.com/chazu/rivet/compiler"
	"github.com/chazu/rivet/vm"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache", "programs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func program(n int64) *ast.Node {
	return ast.Crate(ast.Fn("main", nil, "", ast.Block(ast.Int(n))))
}

func TestKeyIsStable(t *testing.T) {
	a, err := Key(program(1))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	b, _ := Key(program(1))
	c, _ := Key(program(2))
	if a != b {
		t.Errorf("same tree gave different keys: %s vs %s", a, b)
	}
	if a == c {
		t.Errorf("different trees share key %s", a)
	}
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64", len(a))
	}
}

func TestPutGet(t *testing.T) {
	s := openTemp(t)
	code, err := compiler.Compile(program(5))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if _, found, err := s.Get("missing"); err != nil || found {
		t.Fatalf("Get(missing) = found %v, err %v", found, err)
	}
	if err := s.Put("k", code); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, found, err := s.Get("k")
	if err != nil || !found {
		t.Fatalf("Get(k) = found %v, err %v", found, err)
	}
	if !reflect.DeepEqual(got, code) {
		t.Errorf("round trip changed the program")
	}
}

func TestCompileUsesCache(t *testing.T) {
	s := openTemp(t)

	first, cached, err := s.Compile(program(7))
	if err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	if cached {
		t.Error("first compile should miss")
	}
	second, cached, err := s.Compile(program(7))
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if !cached {
		t.Error("second compile should hit")
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("cached program differs from compiled program")
	}

	m, err := vm.New(second)
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	if v, err := m.Run(); err != nil || v != int64(7) {
		t.Errorf("Run = %v, %v; want 7", v, err)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Entries != 1 || st.Hits != 1 || st.Misses != 1 {
		t.Errorf("stats = %+v, want 1 entry, 1 hit, 1 miss", st)
	}
}

func TestCompileErrorsAreNotCached(t *testing.T) {
	s := openTemp(t)
	bad := ast.Crate(ast.Fn("main", nil, "", ast.Block(ast.Path("nope"))))

	_, _, err := s.Compile(bad)
	if !errors.Is(err, compiler.ErrCheckFailed) {
		t.Fatalf("err = %v, want ErrCheckFailed", err)
	}
	st, _ := s.Stats()
	if st.Entries != 0 {
		t.Errorf("failed program was cached: %+v", st)
	}
}

func TestReopenKeepsPrograms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := s.Compile(program(3)); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, cached, err := s.Compile(program(3)); err != nil || !cached {
		t.Errorf("after reopen: cached %v, err %v", cached, err)
	}
}
