package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.New(os.Stderr, "[admin] ", 0).Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	dataFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "data", Value: "./data", Usage: "runtime data directory"}
	}
	dbFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "db", Usage: "sqlite ledger path (default: <data>/index/ledger.sqlite)"}
	}
	limitFlag := func() cli.Flag {
		return &cli.IntFlag{Name: "limit", Value: 20, Usage: "result limit"}
	}

	return &cli.App{
		Name:      "admin",
		Usage:     "inspect a voxelstream map server's ledger, journal and live state",
		Writer:    out,
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			{
				Name:   "summary",
				Usage:  "batch, merge and tile totals from the ledger",
				Flags:  []cli.Flag{dataFlag(), dbFlag()},
				Action: summaryCmd,
			},
			{
				Name:   "batches",
				Usage:  "most recent batches, newest first",
				Flags:  []cli.Flag{dataFlag(), dbFlag(), limitFlag()},
				Action: batchesCmd,
			},
			{
				Name:      "chunk",
				Usage:     "merge history of one chunk",
				ArgsUsage: "[--] <x> <z>",
				Flags:     []cli.Flag{dataFlag(), dbFlag(), limitFlag()},
				Action:    chunkCmd,
			},
			{
				Name:   "tiles",
				Usage:  "latest rendered version of every tile",
				Flags:  []cli.Flag{dataFlag(), dbFlag()},
				Action: tilesCmd,
			},
			{
				Name:   "catalogs",
				Usage:  "colour catalog and tuning digests recorded at startup",
				Flags:  []cli.Flag{dataFlag(), dbFlag()},
				Action: catalogsCmd,
			},
			{
				Name:  "journal",
				Usage: "replay the zstd merge journal",
				Flags: []cli.Flag{
					dataFlag(),
					&cli.BoolFlag{Name: "rejected", Usage: "only rejected batches"},
					limitFlag(),
				},
				Action: journalCmd,
			},
			{
				Name:  "state",
				Usage: "fetch /admin/v1/state from a running server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Value: "http://127.0.0.1:8080", Usage: "server base url"},
				},
				Action: stateCmd,
			},
		},
	}
}

func ledgerPath(c *cli.Context) string {
	if p := strings.TrimSpace(c.String("db")); p != "" {
		return p
	}
	return filepath.Join(c.String("data"), "index", "ledger.sqlite")
}

// printJSON writes one JSON document per line.
func printJSON[T any](w io.Writer, rows ...T) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
	}
	return nil
}
