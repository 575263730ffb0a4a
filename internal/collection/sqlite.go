package collection

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // SQLite driver

	"docrag/internal/collection/migrations"
	"docrag/internal/document"
)

const stagingSuffix = ".staging"

// SQLiteStore keeps one collection in <dir>/<name>.db. Queries are a brute
// force scan, which is fine for the corpus sizes this serves.
type SQLiteStore struct {
	path string
	mu   sync.RWMutex
	db   *sql.DB
}

// OpenSQLite opens (creating if needed) the collection file under dir.
func OpenSQLite(dir, name string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating collection directory: %w", err)
	}

	path := filepath.Join(dir, name+".db")
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{path: path, db: db}, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}
	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	// m.Close would close db as well; only the source is ours to release.
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLiteStore) Location() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Replace writes records into a staging file and renames it over the live
// file once complete. A failed build leaves the live collection untouched.
func (s *SQLiteStore) Replace(ctx context.Context, records []Record) error {
	staging := s.path + stagingSuffix
	if err := os.Remove(staging); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing staging file: %w", err)
	}

	sdb, err := openDB(staging)
	if err != nil {
		return err
	}
	if err := fill(ctx, sdb, records); err != nil {
		sdb.Close()
		os.Remove(staging)
		return err
	}
	if err := sdb.Close(); err != nil {
		os.Remove(staging)
		return fmt.Errorf("closing staging database: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing live database: %w", err)
		}
		s.db = nil
	}
	if err := os.Rename(staging, s.path); err != nil {
		return fmt.Errorf("publishing collection: %w", err)
	}

	db, err := openDB(s.path)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func fill(ctx context.Context, db *sql.DB, records []Record) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, position, text, source_file, page, embedding) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	dim := 0
	for i, r := range records {
		if dim == 0 {
			dim = len(r.Vector)
		} else if len(r.Vector) != dim {
			return fmt.Errorf("record %s: dimension %d, want %d", r.ID, len(r.Vector), dim)
		}

		var page sql.NullInt64
		if r.Metadata.Page != nil {
			page = sql.NullInt64{Int64: int64(*r.Metadata.Page), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.ID, i, r.Text, r.Metadata.SourceFile, page, float32SliceToBytes(r.Vector)); err != nil {
			return fmt.Errorf("inserting %s: %w", r.ID, err)
		}
	}

	meta := map[string]string{
		"dimension": strconv.Itoa(dim),
		"built_at":  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO collection_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("writing collection metadata: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("collection closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, text, source_file, page, embedding FROM chunks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m    Match
			page sql.NullInt64
			blob []byte
		)
		if err := rows.Scan(&m.ID, &m.Text, &m.Metadata.SourceFile, &page, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if page.Valid {
			m.Metadata.Page = document.Page(int(page.Int64))
		}

		m.Distance, err = CosineDistance(vector, bytesToFloat32Slice(blob))
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", m.ID, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	SortByDistance(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, errors.New("collection closed")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// float32SliceToBytes packs a vector little-endian for the embedding column.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
