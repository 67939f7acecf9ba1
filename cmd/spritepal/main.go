package main

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/semmlerino/spritepal"
	"github.com/semmlerino/spritepal/hal"
	"github.com/semmlerino/spritepal/tile"
)

const defaultCache = "spritepal.db"

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:  "version, V",
		Usage: "print the version",
	}
}

func newInstance(c *cli.Context) (*spritepal.SpritePal, error) {
	logger := log.New(ioutil.Discard, "", 0)
	if c.Bool("verbose") {
		logger.SetOutput(os.Stderr)
	}

	return spritepal.New(spritepal.Config{
		CachePath: c.String("cache"),
		Logger:    logger,
	})
}

func parseOffset(s string) (int64, error) {
	return strconv.ParseInt(s, 0, 64)
}

func main() {
	app := cli.NewApp()

	app.Name = "spritepal"
	app.Usage = "ROM sprite block scanning utility"
	app.Version = "1.0.0"

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "cache",
			EnvVars: []string{"SPRITEPAL_CACHE"},
			Value:   filepath.Join(cwd, defaultCache),
			Usage:   "path to cache database",
		},
		&cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "increase verbosity",
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:        "scan",
			Usage:       "Scan a ROM for compressed sprite blocks",
			Description: "",
			ArgsUsage:   "ROM",
			Flags: []cli.Flag{
				&cli.Int64Flag{
					Name:  "start",
					Usage: "first offset to scan",
				},
				&cli.Int64Flag{
					Name:  "end",
					Usage: "offset to stop scanning at, 0 for the end of the ROM",
				},
				&cli.Int64Flag{
					Name:  "step",
					Usage: "coarse probe interval in bytes",
				},
				&cli.Float64Flag{
					Name:  "threshold",
					Usage: "minimum candidate confidence",
				},
				&cli.IntFlag{
					Name:  "workers",
					Usage: "scan parallelism",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				s, err := newInstance(c)
				if err != nil {
					return cli.NewExitError(err, 1)
				}
				defer s.Close()

				rom, err := spritepal.LoadROM(c.Args().First())
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				h, err := s.Search(rom, spritepal.SearchOptions{
					Start:     c.Int64("start"),
					End:       c.Int64("end"),
					StepHint:  c.Int64("step"),
					Threshold: c.Float64("threshold"),
					Workers:   c.Int("workers"),
				})
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				results, err := h.Await()
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				for _, r := range results {
					fmt.Printf("%#08x\t%d tiles\t%d -> %d bytes\t%.2f\n",
						r.Offset, r.TileCount, r.CompressedSize, r.DecodedSize, r.Confidence)
				}

				return nil
			},
		},
		{
			Name:        "decode",
			Usage:       "Decode the block at an offset to a PNG tile sheet",
			Description: "",
			ArgsUsage:   "ROM OFFSET FILE",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "raw",
					Usage: "write raw tile data instead of a PNG",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 3 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				offset, err := parseOffset(c.Args().Get(1))
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				s, err := newInstance(c)
				if err != nil {
					return cli.NewExitError(err, 1)
				}
				defer s.Close()

				rom, err := spritepal.LoadROM(c.Args().First())
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				blk, err := s.DecodeAt(rom, offset)
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				if c.Bool("raw") {
					if err := os.WriteFile(c.Args().Get(2), blk.Data, 0o644); err != nil {
						return cli.NewExitError(err, 1)
					}
					return nil
				}

				sheet, err := blk.Sheet()
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				f, err := os.Create(c.Args().Get(2))
				if err != nil {
					return cli.NewExitError(err, 1)
				}
				defer f.Close()

				if err := png.Encode(f, sheet); err != nil {
					return cli.NewExitError(err, 1)
				}

				return nil
			},
		},
		{
			Name:        "similar",
			Usage:       "Rank scanned blocks by similarity to a reference block",
			Description: "",
			ArgsUsage:   "ROM OFFSET",
			Flags: []cli.Flag{
				&cli.Float64Flag{
					Name:  "threshold",
					Value: 0.8,
					Usage: "minimum similarity score",
				},
				&cli.IntFlag{
					Name:  "max",
					Value: 10,
					Usage: "maximum number of matches",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				offset, err := parseOffset(c.Args().Get(1))
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				s, err := newInstance(c)
				if err != nil {
					return cli.NewExitError(err, 1)
				}
				defer s.Close()

				rom, err := spritepal.LoadROM(c.Args().First())
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				// Fingerprint every scanned block first so the index
				// has something to rank against.
				h, err := s.Search(rom, spritepal.SearchOptions{})
				if err != nil {
					return cli.NewExitError(err, 1)
				}
				results, err := h.Await()
				if err != nil {
					return cli.NewExitError(err, 1)
				}
				for _, r := range results {
					if _, err := s.FindSimilar(rom, r.Offset, 1, 1); err != nil {
						return cli.NewExitError(err, 1)
					}
				}

				matches, err := s.FindSimilar(rom, offset, c.Float64("threshold"), c.Int("max"))
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				for _, m := range matches {
					fmt.Printf("%#08x\t%.3f\n", m.Offset, m.Score)
				}

				return nil
			},
		},
		{
			Name:        "encode",
			Usage:       "Compress an image into a tile block",
			Description: "",
			ArgsUsage:   "IMAGE FILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				f, err := os.Open(c.Args().First())
				if err != nil {
					return cli.NewExitError(err, 1)
				}
				defer f.Close()

				m, _, err := image.Decode(f)
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				var raw bytes.Buffer
				if err := tile.Encode(&raw, m); err != nil {
					return cli.NewExitError(err, 1)
				}

				packed, err := hal.Encode(raw.Bytes())
				if err != nil {
					return cli.NewExitError(err, 1)
				}

				if err := os.WriteFile(c.Args().Get(1), packed, 0o644); err != nil {
					return cli.NewExitError(err, 1)
				}

				return nil
			},
		},
		{
			Name:        "cache-clear",
			Usage:       "Drop every cached entry",
			Description: "",
			Action: func(c *cli.Context) error {
				s, err := newInstance(c)
				if err != nil {
					return cli.NewExitError(err, 1)
				}
				defer s.Close()

				if err := s.Clear(); err != nil {
					return cli.NewExitError(err, 1)
				}

				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
