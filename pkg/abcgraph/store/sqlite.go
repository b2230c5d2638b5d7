package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/backend"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/observability"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/slicekey"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/tensor"
)

// SQLiteStore persists chunk data to SQLite, so samples survive process
// restarts. It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	b      backend.Backend
	name   string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	bg     sync.WaitGroup
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a SQLite chunk store for the named node.
// The path should be a file path (e.g., "./chunks.db") or ":memory:"
// for testing.
func NewSQLiteStore(path, name string, b backend.Backend, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			name TEXT NOT NULL,
			start INTEGER NOT NULL,
			length INTEGER NOT NULL,
			cols INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (name, start, length)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db, b: b, name: name, logger: logger}, nil
}

// Write implements Store. The row is inserted in the background once the
// chunk resolves.
func (s *SQLiteStore) Write(d *backend.Deferred, onDone func(key slicekey.Key, value any)) error {
	key := d.Key()
	if key.Name != s.name {
		return fmt.Errorf("write %s into store for %q: %w", key, s.name, ErrWrongNode)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.bg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.bg.Done()
		v, err := s.b.Force(context.Background(), d)
		if err != nil {
			observability.LogStoreWriteError(s.logger, key.String(), err)
			return
		}
		data, err := backend.DataOf(v)
		if err != nil {
			observability.LogStoreWriteError(s.logger, key.String(), err)
			return
		}
		if err := s.insert(key, data); err != nil {
			observability.LogStoreWriteError(s.logger, key.String(), err)
			return
		}
		if onDone != nil {
			onDone(key, v)
		}
	}()
	return nil
}

func (s *SQLiteStore) insert(key slicekey.Key, data *tensor.Dense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO chunks (name, start, length, cols, data)
		VALUES (?, ?, ?, ?, ?)
	`, key.Name, key.Start, key.Length, data.Cols(), encodeRows(data))
	if err != nil {
		return fmt.Errorf("save chunk: %w", err)
	}
	return nil
}

// Read implements Store.
func (s *SQLiteStore) Read(key slicekey.Key) (*backend.Deferred, error) {
	if key.Name != s.name {
		return nil, fmt.Errorf("read %s from store for %q: %w", key, s.name, ErrWrongNode)
	}

	data, err := s.load(key)
	if err != nil {
		return nil, err
	}
	return backend.Literal(key, &backend.Output{
		Data:  data,
		N:     key.Length,
		Index: key.Start,
	}), nil
}

// ReadData implements Store. The returned handle queries the database
// lazily, at force time.
func (s *SQLiteStore) ReadData(r slicekey.Range) (*backend.Deferred, error) {
	key, err := slicekey.New(s.name, r)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrStoreClosed
	}

	return backend.NewTask(key.WithName(storedName(s.name)),
		func(_ context.Context, _ []any) (any, error) {
			return s.load(key)
		}), nil
}

func (s *SQLiteStore) load(key slicekey.Key) (*tensor.Dense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var cols int
	var blob []byte
	err := s.db.QueryRow(`
		SELECT cols, data FROM chunks
		WHERE name = ? AND start = ? AND length = ?
	`, key.Name, key.Start, key.Length).Scan(&cols, &blob)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("read %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load chunk: %w", err)
	}
	return decodeRows(key.Length, cols, blob)
}

// Reset implements Store. Removes the bound node's rows.
func (s *SQLiteStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, err := s.db.Exec(`DELETE FROM chunks WHERE name = ?`, s.name); err != nil {
		return fmt.Errorf("reset chunks: %w", err)
	}
	return nil
}

// Close implements Store. Waits for in-flight background writes.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.bg.Wait()
	return s.db.Close()
}

// encodeRows serializes a matrix row-major as little-endian float64s.
func encodeRows(d *tensor.Dense) []byte {
	buf := make([]byte, 8*d.Rows()*d.Cols())
	at := 0
	for i := 0; i < d.Rows(); i++ {
		for _, v := range d.Row(i) {
			binary.LittleEndian.PutUint64(buf[at:], math.Float64bits(v))
			at += 8
		}
	}
	return buf
}

// decodeRows deserializes a rows x cols matrix from a blob.
func decodeRows(rows, cols int, blob []byte) (*tensor.Dense, error) {
	if len(blob) != 8*rows*cols {
		return nil, fmt.Errorf("blob of %d bytes for %dx%d chunk: %w", len(blob), rows, cols, tensor.ErrShape)
	}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[8*i:]))
	}
	return tensor.New(rows, cols, data)
}
