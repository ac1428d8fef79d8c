package mbtiles

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/MeKo-Tech/esrioverlay/internal/tile"
)

const (
	// DefaultBatchSize is the number of tiles to buffer before flushing to the database.
	DefaultBatchSize = 100
)

// TileEntry represents a single tile to be written.
type TileEntry struct {
	Coords tile.Coords
	Data   []byte
}

// Option configures a Writer.
type Option func(*Writer)

// WithGzip stores tiles gzip-compressed. Raster tiles are normally stored as is.
func WithGzip() Option {
	return func(w *Writer) { w.gzip = true }
}

// WithBatchSize sets how many tiles are buffered per transaction.
func WithBatchSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// Writer writes tiles to an MBTiles database.
type Writer struct {
	db        *sql.DB
	path      string
	batch     []TileEntry
	metadata  Metadata
	batchSize int
	gzip      bool
	written   int
	mu        sync.Mutex
}

// New creates a new MBTiles writer.
// The database is created if it doesn't exist, and the schema is initialized.
func New(path string, metadata Metadata, opts ...Option) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	w := &Writer{
		db:        db,
		path:      path,
		batchSize: DefaultBatchSize,
		metadata:  metadata,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.batch = make([]TileEntry, 0, w.batchSize)

	if err := w.SetMetadata(metadata); err != nil {
		db.Close()
		return nil, err
	}

	return w, nil
}

// createSchema creates the MBTiles database schema.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT NOT NULL,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS tiles (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_data BLOB NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// SetMetadata replaces the metadata table. Packing tools call it again once the
// real zoom range and bounds are known.
func (w *Writer) SetMetadata(meta Metadata) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if _, err := tx.Exec("DELETE FROM metadata"); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare metadata insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range meta.ToMap() {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to insert metadata %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metadata: %w", err)
	}

	w.mu.Lock()
	w.metadata = meta
	w.mu.Unlock()
	return nil
}

// WriteTile adds a tile to the batch. When the batch is full, it is automatically flushed.
// Coordinates are XYZ and are stored as TMS rows.
func (w *Writer) WriteTile(c tile.Coords, data []byte) error {
	if err := c.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.batch = append(w.batch, TileEntry{Coords: c, Data: data})

	if len(w.batch) >= w.batchSize {
		return w.flushLocked()
	}

	return nil
}

// Written returns the number of tiles committed so far.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Flush writes any buffered tiles to the database.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// flushLocked writes buffered tiles to the database. Must be called with lock held.
func (w *Writer) flushLocked() error {
	if len(w.batch) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range w.batch {
		data := entry.Data
		if w.gzip {
			if data, err = gzipCompress(data); err != nil {
				return fmt.Errorf("failed to compress tile %s: %w", entry.Coords, err)
			}
		}

		if _, err := stmt.Exec(entry.Coords.Z, entry.Coords.X, entry.Coords.TMSRow(), data); err != nil {
			return fmt.Errorf("failed to insert tile %s: %w", entry.Coords, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.written += len(w.batch)
	w.batch = w.batch[:0]
	return nil
}

// Close flushes any remaining tiles and closes the database.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.db.Close()
		return err
	}

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// gzipCompress compresses data with gzip.
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)

	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return nil, err
	}

	if err := gw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
