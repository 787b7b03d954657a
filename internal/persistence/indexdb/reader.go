package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// Reader runs the inspection queries used by cmd/admin against an existing ledger.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type Summary struct {
	Batches     int64 `json:"batches"`
	Rejected    int64 `json:"rejected"`
	Merges      int64 `json:"merges"`
	Cells       int64 `json:"cells"`
	Chunks      int64 `json:"chunks"`
	Tiles       int64 `json:"tiles"`
	FirstBatch  int64 `json:"first_batch_ms"`
	LatestBatch int64 `json:"latest_batch_ms"`
}

func (r *Reader) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(rejected),0), COALESCE(MIN(received_at),0), COALESCE(MAX(received_at),0) FROM batches`)
	if err := row.Scan(&s.Batches, &s.Rejected, &s.FirstBatch, &s.LatestBatch); err != nil {
		return s, err
	}
	row = r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(cells),0) FROM merges`)
	if err := row.Scan(&s.Merges, &s.Cells); err != nil {
		return s, err
	}
	row = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM (SELECT DISTINCT x, z FROM merges)`)
	if err := row.Scan(&s.Chunks); err != nil {
		return s, err
	}
	row = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles`)
	if err := row.Scan(&s.Tiles); err != nil {
		return s, err
	}
	return s, nil
}

type BatchRow struct {
	BatchID     string `json:"batch_id"`
	Source      string `json:"source"`
	ReceivedAt  int64  `json:"received_at"`
	GameVersion string `json:"game_version"`
	Chunks      int    `json:"chunks"`
	Rejected    bool   `json:"rejected"`
	Error       string `json:"error,omitempty"`
}

// RecentBatches returns the newest batches first.
func (r *Reader) RecentBatches(ctx context.Context, limit int) ([]BatchRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT batch_id,source,received_at,game_version,chunks,rejected,COALESCE(error,'') FROM batches ORDER BY received_at DESC, batch_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BatchRow
	for rows.Next() {
		var b BatchRow
		var rejected int
		if err := rows.Scan(&b.BatchID, &b.Source, &b.ReceivedAt, &b.GameVersion, &b.Chunks, &rejected, &b.Error); err != nil {
			return nil, err
		}
		b.Rejected = rejected != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

type MergeRow struct {
	BatchID   string `json:"batch_id"`
	YStart    int    `json:"y_start"`
	YEnd      int    `json:"y_end"`
	Cells     int    `json:"cells"`
	Created   bool   `json:"created"`
	Timestamp int64  `json:"timestamp"`
}

// ChunkHistory lists merges into chunk (x,z), newest first.
func (r *Reader) ChunkHistory(ctx context.Context, x, z int32, limit int) ([]MergeRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT batch_id,y_start,y_end,cells,created,timestamp FROM merges WHERE x=? AND z=? ORDER BY timestamp DESC, batch_id LIMIT ?`, x, z, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MergeRow
	for rows.Next() {
		var m MergeRow
		var created int
		if err := rows.Scan(&m.BatchID, &m.YStart, &m.YEnd, &m.Cells, &created, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Created = created != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

type TileRow struct {
	X          int32  `json:"x"`
	Z          int32  `json:"z"`
	Version    int64  `json:"version"`
	ETag       string `json:"etag"`
	Bytes      int    `json:"bytes"`
	RenderedAt int64  `json:"rendered_at"`
}

func (r *Reader) Tiles(ctx context.Context) ([]TileRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT x,z,version,etag,bytes,rendered_at FROM tiles ORDER BY x, z`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TileRow
	for rows.Next() {
		var t TileRow
		if err := rows.Scan(&t.X, &t.Z, &t.Version, &t.ETag, &t.Bytes, &t.RenderedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type CatalogRow struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	UpdatedAt string `json:"updated_at"`
}

func (r *Reader) Catalogs(ctx context.Context) ([]CatalogRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CatalogRow
	for rows.Next() {
		var c CatalogRow
		if err := rows.Scan(&c.Name, &c.Digest, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
