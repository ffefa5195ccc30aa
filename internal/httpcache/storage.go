package httpcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Storage keeps serialized responses with an expiration time.
// An expired entry is reported as absent. Implementations must be safe for
// concurrent use.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, expires time.Time, b []byte) error
	Purge(ctx context.Context, key string) error
	Close() error
}

type memoryEntry struct {
	expires time.Time
	bytes   []byte
}

// MemoryStorage is an in-process Storage.
type MemoryStorage struct {
	mu  sync.RWMutex
	db  map[string]memoryEntry
	now func() time.Time
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		db:  make(map[string]memoryEntry),
		now: time.Now,
	}
}

func (m *MemoryStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.db[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.now().After(entry.expires) {
		m.mu.Lock()
		delete(m.db, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.bytes, true, nil
}

func (m *MemoryStorage) Put(_ context.Context, key string, expires time.Time, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db[key] = memoryEntry{expires: expires, bytes: b}
	return nil
}

func (m *MemoryStorage) Purge(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.db, key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.db)
}

func (m *MemoryStorage) Close() error { return nil }

// SQLiteStorage is a Storage backed by a SQLite database file, so cached
// responses survive restarts.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex sync.Mutex
	now        func() time.Time
}

// NewSQLiteStorage opens (or creates) the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache storage: open %s: %w", path, err)
	}
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS cache (key TEXT PRIMARY KEY, expires INTEGER, bytes BLOB)",
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cache storage: init %s: %w", path, err)
		}
	}
	return &SQLiteStorage{db: db, now: time.Now}, nil
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var expires int64
	var b []byte
	err := s.db.QueryRowContext(ctx, "SELECT expires, bytes FROM cache WHERE key = ?", key).Scan(&expires, &b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if s.now().After(time.UnixMilli(expires)) {
		return nil, false, s.Purge(ctx, key)
	}
	return b, true, nil
}

func (s *SQLiteStorage) Put(ctx context.Context, key string, expires time.Time, b []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO cache (key, expires, bytes) VALUES (?, ?, ?)", key, expires.UnixMilli(), b)
	return err
}

func (s *SQLiteStorage) Purge(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key)
	return err
}

// PurgeExpired deletes every expired entry and returns how many were removed.
func (s *SQLiteStorage) PurgeExpired(ctx context.Context) (int64, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE expires < ?", s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }
