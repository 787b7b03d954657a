package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"voxelstream.ai/internal/catalogs"
	"voxelstream.ai/internal/mapserver"
	"voxelstream.ai/internal/persistence/indexdb"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/tuning"
)

func seedData(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	idx, err := indexdb.OpenSQLite(filepath.Join(dir, "index", "ledger.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.UpsertCatalogs(catalogs.Defaults(), tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	j := persistlog.NewMergeJournal(dir)

	recs := []mapserver.BatchRecord{
		{BatchID: "b1", Source: "s1", ReceivedAt: 1000, Chunks: 1, Merges: []mapserver.MergeRecord{
			{X: -2, Z: 3, YStart: 40, YEnd: 80, Cells: 256 * 41, Columns: 256, Created: true, Timestamp: 990},
		}},
		{BatchID: "b2", Source: "s1", ReceivedAt: 2000, Rejected: true, Error: "malformed batch"},
		{BatchID: "b3", Source: "s1", ReceivedAt: 3000, Chunks: 1, Merges: []mapserver.MergeRecord{
			{X: -2, Z: 3, YStart: 50, YEnd: 60, Cells: 256 * 11, Columns: 256, Timestamp: 2990},
		}},
	}
	for _, r := range recs {
		_ = idx.WriteBatch(r)
		if err := j.WriteBatch(r); err != nil {
			t.Fatalf("journal: %v", err)
		}
	}
	idx.TileRendered(mapserver.TileRecord{X: -2, Z: 3, Version: 2, ETag: `"e"`, Bytes: 99}, nil)
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	return dir
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := newApp(&out).Run(append([]string{"admin"}, args...)); err != nil {
		t.Fatalf("admin %v: %v", args, err)
	}
	return out.String()
}

func lines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestAdmin_Summary(t *testing.T) {
	dir := seedData(t)
	var s indexdb.Summary
	if err := json.Unmarshal([]byte(run(t, "summary", "--data", dir)), &s); err != nil {
		t.Fatal(err)
	}
	if s.Batches != 3 || s.Rejected != 1 || s.Merges != 2 || s.Chunks != 1 || s.Tiles != 1 {
		t.Fatalf("summary=%+v", s)
	}
}

func TestAdmin_BatchesAndChunk(t *testing.T) {
	dir := seedData(t)
	db := filepath.Join(dir, "index", "ledger.sqlite")

	got := lines(run(t, "batches", "--db", db, "--limit", "2"))
	if len(got) != 2 || !strings.Contains(got[0], `"batch_id":"b3"`) {
		t.Fatalf("batches=%v", got)
	}

	got = lines(run(t, "chunk", "--db", db, "--", "-2", "3"))
	if len(got) != 2 || !strings.Contains(got[0], `"batch_id":"b3"`) {
		t.Fatalf("chunk history=%v", got)
	}

	if err := newApp(&bytes.Buffer{}).Run([]string{"admin", "chunk", "--db", db, "x"}); err == nil {
		t.Fatalf("expected usage error")
	}
}

func TestAdmin_TilesAndCatalogs(t *testing.T) {
	dir := seedData(t)
	if got := lines(run(t, "tiles", "--data", dir)); len(got) != 1 || !strings.Contains(got[0], `"version":2`) {
		t.Fatalf("tiles=%v", got)
	}
	if got := lines(run(t, "catalogs", "--data", dir)); len(got) == 0 {
		t.Fatalf("no catalog rows")
	}
}

func TestAdmin_Journal(t *testing.T) {
	dir := seedData(t)
	if got := lines(run(t, "journal", "--data", dir)); len(got) != 3 {
		t.Fatalf("journal=%v", got)
	}
	got := lines(run(t, "journal", "--data", dir, "--rejected"))
	if len(got) != 1 || !strings.Contains(got[0], `"batch_id":"b2"`) {
		t.Fatalf("rejected=%v", got)
	}
	if got := lines(run(t, "journal", "--data", dir, "--limit", "1")); len(got) != 1 || !strings.Contains(got[0], "b3") {
		t.Fatalf("limit=%v", got)
	}
}

func TestAdmin_MissingLedger(t *testing.T) {
	err := newApp(&bytes.Buffer{}).Run([]string{"admin", "summary", "--data", t.TempDir()})
	if err == nil {
		t.Fatalf("expected error for missing ledger")
	}
}

func TestAdmin_State(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/v1/state" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"viewers":2}` + "\n"))
	}))
	defer srv.Close()

	if got := strings.TrimSpace(run(t, "state", "--url", srv.URL+"/")); got != `{"viewers":2}` {
		t.Fatalf("state=%q", got)
	}
}
