package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/afumu/barlens/dma"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
)

var mmapCommand = cli.Command{
	Name:  "mmap",
	Usage: "delete and regenerate the memory map file",
	Action: func(c *cli.Context) error {
		conf, cleanup, err := setup(c)
		if err != nil {
			return err
		}
		defer cleanup()

		if conf.MemMapPath == "" {
			return fmt.Errorf("MMAP_PATH is empty")
		}
		if err := os.Remove(conf.MemMapPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		table, err := loadTable(conf.OffsetsPath)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ch, err := openChannel(ctx, conf, table)
		if err != nil {
			return err
		}
		defer ch.Close()

		ranges, err := dma.LoadMemMap(conf.MemMapPath)
		if err != nil {
			return err
		}
		var total uint64
		for _, r := range ranges {
			total += r.End - r.Start + 1
		}
		fmt.Printf("%s: %d ranges, %s mapped\n", conf.MemMapPath, len(ranges), humanize.IBytes(total))
		return nil
	},
}

var offsetsCommand = cli.Command{
	Name:  "offsets",
	Usage: "print the active offsets table as JSON",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "path, p",
			Usage: "offsets file to load instead of OFFSETS_PATH",
		},
	},
	Action: func(c *cli.Context) error {
		conf, cleanup, err := setup(c)
		if err != nil {
			return err
		}
		defer cleanup()

		path := conf.OffsetsPath
		if p := c.String("path"); p != "" {
			path = p
		}
		table, err := loadTable(path)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(table)
	},
}
