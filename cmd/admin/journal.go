package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	persistlog "voxelstream.ai/internal/persistence/log"
)

// journalCmd prints the newest journal records, oldest first.
func journalCmd(c *cli.Context) error {
	recs, err := persistlog.ReadJournal(c.String("data"))
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if c.Bool("rejected") {
		kept := recs[:0]
		for _, r := range recs {
			if r.Rejected {
				kept = append(kept, r)
			}
		}
		recs = kept
	}
	if n := c.Int("limit"); n > 0 && len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return printJSON(c.App.Writer, recs...)
}
