package mbtiles

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/MeKo-Tech/esrioverlay/internal/tile"
)

// Reader reads tiles from an MBTiles database.
type Reader struct {
	db   *sql.DB
	path string
}

// OpenReader opens an MBTiles database for reading.
func OpenReader(path string) (*Reader, error) {
	// Open in read-only mode with immutable flag
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='tiles'").Scan(&count)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify schema: %w", err)
	}
	if count == 0 {
		db.Close()
		return nil, fmt.Errorf("database does not contain tiles table")
	}

	return &Reader{
		db:   db,
		path: path,
	}, nil
}

// Path returns the database file path.
func (r *Reader) Path() string {
	return r.path
}

// ReadTile returns the image data of a tile, decompressed if it was stored gzipped.
// Coordinates are XYZ; rows are flipped to TMS internally.
func (r *Reader) ReadTile(ctx context.Context, c tile.Coords) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?",
		c.Z, c.X, c.TMSRow(),
	).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tile: %w", err)
	}

	if !isGzip(data) {
		return data, nil
	}

	uncompressed, err := gzipDecompress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress tile: %w", err)
	}
	return uncompressed, nil
}

// Metadata reads metadata from the database.
func (r *Reader) Metadata(ctx context.Context) (Metadata, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return Metadata{}, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		values[name] = value.String
	}

	if err := rows.Err(); err != nil {
		return Metadata{}, fmt.Errorf("error iterating metadata: %w", err)
	}

	return parseMetadata(values), nil
}

// Close closes the database connection.
func (r *Reader) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// gzipDecompress decompresses gzip data.
func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}
