// Package store caches assembled output in SQLite, addressed by a hash of
// everything that went into the build. Assembly is deterministic, so equal
// inputs always map to equal output.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("udonasm.store")

// ErrNotFound indicates no artifact is cached under the key.
var ErrNotFound = errors.New("artifact not found")

// Hash is a content key.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Key hashes build inputs. Each input is length-prefixed, so the split
// between inputs is part of the key.
func Key(inputs ...[]byte) Hash {
	hw := sha256.New()
	var n [8]byte
	for _, in := range inputs {
		binary.LittleEndian.PutUint64(n[:], uint64(len(in)))
		hw.Write(n[:])
		hw.Write(in)
	}
	var h Hash
	copy(h[:], hw.Sum(nil))
	return h
}

// Artifact is one cached build output.
type Artifact struct {
	Hash    Hash
	BuildID string
	Name    string
	Text    string
	Image   []byte
	Created time.Time
}

// Store is a SQLite-backed artifact cache.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
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

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		hash TEXT PRIMARY KEY,
		build_id TEXT NOT NULL,
		name TEXT NOT NULL,
		text TEXT NOT NULL,
		image BLOB,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores an artifact under h, replacing any previous one, and returns
// the build id assigned to it.
func (s *Store) Put(h Hash, name, text string, image []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO artifacts (hash, build_id, name, text, image, created) VALUES (?, ?, ?, ?, ?, ?)",
		h.String(), id, name, text, image, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("saving artifact: %w", err)
	}
	log.Debugf("cached %s as %s (%s)", name, h, id)
	return id, nil
}

// Lookup returns the artifact stored under h.
func (s *Store) Lookup(h Hash) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &Artifact{Hash: h}
	var created int64
	err := s.db.QueryRow(
		"SELECT build_id, name, text, image, created FROM artifacts WHERE hash = ?", h.String(),
	).Scan(&a.BuildID, &a.Name, &a.Text, &a.Image, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying artifact: %w", err)
	}
	a.Created = time.Unix(created, 0)
	return a, nil
}

// Delete removes the artifact stored under h, if any.
func (s *Store) Delete(h Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM artifacts WHERE hash = ?", h.String()); err != nil {
		return fmt.Errorf("deleting artifact: %w", err)
	}
	return nil
}

// Len returns the number of cached artifacts.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM artifacts").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting artifacts: %w", err)
	}
	return n, nil
}
