// Package store is a content-addressed cache of compiled programs backed
// by SQLite. Programs are keyed by a hash of their tree, so an unchanged
// program is compiled once and afterwards loaded straight from disk.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/rivet/ast"
	"github.com/chazu/rivet/compiler"
	"github.com/chazu/rivet/vm"
)

var log = commonlog.GetLogger("rivet.store")

// Store holds compiled program images keyed by tree hash.
type Store struct {
	db     *sql.DB
	path   string
	mu     sync.Mutex
	hits   int
	misses int
}

// Stats summarizes the cache.
type Stats struct {
	Entries int
	Hits    int
	Misses  int
}

var keyEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: failed to create CBOR enc mode: %v", err))
	}
	keyEncMode = em
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		key TEXT PRIMARY KEY,
		image BLOB NOT NULL,
		instructions INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened program cache %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Key returns the cache key of tree: the hex SHA-256 of its canonical CBOR
// encoding, salted with the program image version so that a format change
// never serves stale images.
func Key(tree *ast.Node) (string, error) {
	data, err := keyEncMode.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("encoding tree: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s/%d\x00", vm.ProgramMagic, vm.ProgramVersion)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns the program stored under key. found is false on a miss.
func (s *Store) Get(key string) (code []vm.Instruction, found bool, err error) {
	var image []byte
	err = s.db.QueryRow("SELECT image FROM programs WHERE key = ?", key).Scan(&image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.count(false)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying program: %w", err)
	}

	code, err = vm.UnmarshalProgram(image)
	if err != nil {
		return nil, false, fmt.Errorf("decoding cached program %s: %w", key, err)
	}
	s.count(true)
	return code, true, nil
}

// Put stores code under key, replacing any previous entry.
func (s *Store) Put(key string, code []vm.Instruction) error {
	image, err := vm.MarshalProgram(code)
	if err != nil {
		return fmt.Errorf("encoding program: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO programs (key, image, instructions, created_at) VALUES (?, ?, ?, ?)",
		key, image, len(code), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// Compile returns the compiled form of tree, from the cache when possible.
// cached reports whether the program came from the cache. Programs that
// fail to compile are never stored.
func (s *Store) Compile(tree *ast.Node) (code []vm.Instruction, cached bool, err error) {
	key, err := Key(tree)
	if err != nil {
		return nil, false, err
	}
	code, found, err := s.Get(key)
	if err != nil {
		log.Warningf("ignoring unreadable cache entry: %s", err)
	} else if found {
		log.Debugf("cache hit %s", key[:12])
		return code, true, nil
	}

	code, err = compiler.Compile(tree)
	if err != nil {
		return nil, false, err
	}
	if err := s.Put(key, code); err != nil {
		log.Warningf("could not cache program: %s", err)
	}
	return code, false, nil
}

// Stats returns the number of cached programs and this store's hit and
// miss counts.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow("SELECT COUNT(*) FROM programs").Scan(&st.Entries); err != nil {
		return Stats{}, fmt.Errorf("counting programs: %w", err)
	}
	s.mu.Lock()
	st.Hits, st.Misses = s.hits, s.misses
	s.mu.Unlock()
	return st, nil
}

func (s *Store) count(hit bool) {
	s.mu.Lock()
	if hit {
		s.hits++
	} else {
		s.misses++
	}
	s.mu.Unlock()
}
