package log

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"voxelstream.ai/internal/mapserver"
)

const journalPrefix = "merges"

// MergeJournal records every received batch (accepted and rejected) with its per-chunk
// merge results.
type MergeJournal struct{ w *JSONLZstdWriter }

func NewMergeJournal(dataDir string) *MergeJournal {
	return &MergeJournal{w: NewJSONLZstdWriter(filepath.Join(dataDir, "journal"), journalPrefix)}
}

func (j *MergeJournal) WriteBatch(rec mapserver.BatchRecord) error { return j.w.Write(rec) }
func (j *MergeJournal) Lines() uint64                               { return j.w.Lines() }
func (j *MergeJournal) Close() error                                { return j.w.Close() }

// ReadJournal returns every batch record under dataDir in file order.
func ReadJournal(dataDir string) ([]mapserver.BatchRecord, error) {
	files, err := Files(filepath.Join(dataDir, "journal"), journalPrefix)
	if err != nil {
		return nil, err
	}
	var out []mapserver.BatchRecord
	for _, path := range files {
		err := ReadLines(path, func(line []byte) error {
			var rec mapserver.BatchRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			out = append(out, rec)
			return nil
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
