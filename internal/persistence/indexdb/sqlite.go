// Package indexdb is a SQLite ledger of received batches, chunk merges and rendered
// tiles. Writes are queued and applied by one goroutine; the merge journal remains the
// source of truth when the queue overflows.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelstream.ai/internal/catalogs"
	"voxelstream.ai/internal/mapserver"
	"voxelstream.ai/internal/tuning"
)

const DefaultQueue = 65536

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropBatch atomic.Uint64
	dropTile  atomic.Uint64
	writeFail atomic.Uint64
}

type reqKind int

const (
	reqBatch reqKind = iota + 1
	reqTile
)

type req struct {
	kind  reqKind
	batch mapserver.BatchRecord
	tile  mapserver.TileRecord
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropBatchTotal uint64
	DropTileTotal  uint64
	WriteFailTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, DefaultQueue)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS batches (
			batch_id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			received_at INTEGER NOT NULL,
			game_version TEXT NOT NULL,
			pos_x REAL NOT NULL,
			pos_y REAL NOT NULL,
			pos_z REAL NOT NULL,
			chunks INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_batches_received ON batches(received_at);`,
		`CREATE TABLE IF NOT EXISTS merges (
			batch_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			y_start INTEGER NOT NULL,
			y_end INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			columns INTEGER NOT NULL,
			created INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (batch_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_merges_chunk ON merges(x, z, timestamp);`,
		`CREATE TABLE IF NOT EXISTS tiles (
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			version INTEGER NOT NULL,
			etag TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			rendered_at INTEGER NOT NULL,
			PRIMARY KEY (x, z)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteBatch queues rec. It never blocks; a full queue drops the record.
func (s *SQLiteIndex) WriteBatch(rec mapserver.BatchRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqBatch, batch: rec}:
	default:
		s.dropBatch.Add(1)
	}
	return nil
}

// TileRendered keeps the latest version per tile.
func (s *SQLiteIndex) TileRendered(rec mapserver.TileRecord, _ []byte) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqTile, tile: rec}:
	default:
		s.dropTile.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropBatchTotal: s.dropBatch.Load(),
		DropTileTotal:  s.dropTile.Load(),
		WriteFailTotal: s.writeFail.Load(),
	}
}

// UpsertCatalogs stores the colour tables and tuning actually in effect, with digests.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if cats != nil {
		blocks := make(map[string]string, len(cats.Blocks.ByName))
		for n, c := range cats.Blocks.ByName {
			blocks[n] = catalogs.FormatHex(c)
		}
		if b, err := json.Marshal(blocks); err == nil {
			rows = append(rows, kv{name: "block_colors", digest: cats.Blocks.Digest, json: b})
		}
		biomes := make(map[string]string, len(cats.Biomes.ByID)+1)
		for id, c := range cats.Biomes.ByID {
			biomes[fmt.Sprint(id)] = catalogs.FormatHex(c)
		}
		biomes["default"] = catalogs.FormatHex(cats.Biomes.Background)
		if b, err := json.Marshal(biomes); err == nil {
			rows = append(rows, kv{name: "biome_colors", digest: cats.Biomes.Digest, json: b})
		}
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertBatch, _ := s.db.Prepare(`INSERT OR REPLACE INTO batches(batch_id,source,received_at,game_version,pos_x,pos_y,pos_z,chunks,rejected,error) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertMerge, _ := s.db.Prepare(`INSERT OR REPLACE INTO merges(batch_id,seq,x,z,y_start,y_end,cells,columns,created,timestamp) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	upsertTile, _ := s.db.Prepare(`INSERT OR REPLACE INTO tiles(x,z,version,etag,bytes,rendered_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertBatch, insertMerge, upsertTile} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 1000
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFail.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeFail.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.writeFail.Add(1)
			continue
		}
		switch r.kind {
		case reqBatch:
			b := r.batch
			if insertBatch == nil || insertMerge == nil {
				continue
			}
			if _, err := tx.Stmt(insertBatch).Exec(
				b.BatchID, b.Source, b.ReceivedAt, b.GameVersion,
				b.Position.X, b.Position.Y, b.Position.Z,
				b.Chunks, boolInt(b.Rejected), nullString(b.Error),
			); err != nil {
				rollback()
				continue
			}
			opCount++
			for i, m := range b.Merges {
				if _, err := tx.Stmt(insertMerge).Exec(
					b.BatchID, i, m.X, m.Z, m.YStart, m.YEnd,
					m.Cells, m.Columns, boolInt(m.Created), m.Timestamp,
				); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqTile:
			t := r.tile
			if upsertTile == nil {
				continue
			}
			if _, err := tx.Stmt(upsertTile).Exec(t.X, t.Z, int64(t.Version), t.ETag, t.Bytes, t.RenderedAt); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		// Commit when idle so the single connection is free for UpsertCatalogs.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
