// Package unread persists the per-conversation "has unread message" flags,
// the only part of the claim cache that survives a restart.
package unread

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/leapmux/claimsync/internal/claims"
)

// flagsKey is the single kv row holding the flag map.
const flagsKey = "unread_flags"

// SQLiteStore keeps the flags as one JSON document in the kv table. The cache
// calls Load once when it is built and Save synchronously after every change.
type SQLiteStore struct {
	db *sql.DB
}

var _ claims.FlagStore = (*SQLiteStore)(nil)

// NewSQLiteStore migrates db and returns a store backed by it.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens the database at path and returns a store on it. The
// caller closes the store when done.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Load reads the flags. A missing row means no flags.
func (s *SQLiteStore) Load() (map[claims.Key]bool, error) {
	var raw string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", flagsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[claims.Key]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read unread flags: %w", err)
	}

	flags := map[claims.Key]bool{}
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		return nil, fmt.Errorf("decode unread flags: %w", err)
	}
	return flags, nil
}

// Save replaces the stored flags. Only true entries are written.
func (s *SQLiteStore) Save(flags map[claims.Key]bool) error {
	set := make(map[claims.Key]bool, len(flags))
	for k, v := range flags {
		if v {
			set[k] = true
		}
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode unread flags: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		flagsKey, string(raw),
	)
	if err != nil {
		return fmt.Errorf("write unread flags: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore is a claims.FlagStore that lives only as long as the process.
type MemoryStore struct {
	mu    sync.Mutex
	flags map[claims.Key]bool
}

var _ claims.FlagStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: map[claims.Key]bool{}}
}

func (m *MemoryStore) Load() (map[claims.Key]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.flags), nil
}

func (m *MemoryStore) Save(flags map[claims.Key]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags = maps.Clone(flags)
	if m.flags == nil {
		m.flags = map[claims.Key]bool{}
	}
	return nil
}
