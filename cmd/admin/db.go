package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"voxelstream.ai/internal/persistence/indexdb"
)

func withReader(c *cli.Context, fn func(r *indexdb.Reader) error) error {
	r, err := indexdb.OpenReader(ledgerPath(c))
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

func summaryCmd(c *cli.Context) error {
	return withReader(c, func(r *indexdb.Reader) error {
		s, err := r.Summary(c.Context)
		if err != nil {
			return fmt.Errorf("summary: %w", err)
		}
		return printJSON(c.App.Writer, s)
	})
}

func batchesCmd(c *cli.Context) error {
	return withReader(c, func(r *indexdb.Reader) error {
		rows, err := r.RecentBatches(c.Context, c.Int("limit"))
		if err != nil {
			return fmt.Errorf("batches: %w", err)
		}
		return printJSON(c.App.Writer, rows...)
	})
}

func chunkCmd(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: admin chunk <x> <z>")
	}
	x, err := strconv.ParseInt(c.Args().Get(0), 10, 32)
	if err != nil {
		return fmt.Errorf("bad x: %w", err)
	}
	z, err := strconv.ParseInt(c.Args().Get(1), 10, 32)
	if err != nil {
		return fmt.Errorf("bad z: %w", err)
	}
	return withReader(c, func(r *indexdb.Reader) error {
		rows, err := r.ChunkHistory(c.Context, int32(x), int32(z), c.Int("limit"))
		if err != nil {
			return fmt.Errorf("chunk history: %w", err)
		}
		return printJSON(c.App.Writer, rows...)
	})
}

func tilesCmd(c *cli.Context) error {
	return withReader(c, func(r *indexdb.Reader) error {
		rows, err := r.Tiles(c.Context)
		if err != nil {
			return fmt.Errorf("tiles: %w", err)
		}
		return printJSON(c.App.Writer, rows...)
	})
}

func catalogsCmd(c *cli.Context) error {
	return withReader(c, func(r *indexdb.Reader) error {
		rows, err := r.Catalogs(c.Context)
		if err != nil {
			return fmt.Errorf("catalogs: %w", err)
		}
		return printJSON(c.App.Writer, rows...)
	})
}
