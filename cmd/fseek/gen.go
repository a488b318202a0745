package main

import (
	"encoding/hex"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/flrossetto/fseek/config"
	"github.com/flrossetto/fseek/internal/fseekerr"
	"github.com/flrossetto/fseek/internal/record"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newGenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a file of fixed-width records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()

			count, _ := f.GetInt("count")
			size, _ := f.GetInt("size")
			seed, _ := f.GetUint64("seed")
			out, _ := f.GetString("out")
			rawPlants, _ := f.GetStringArray("plant")

			plants, err := parsePlants(rawPlants)
			if err != nil {
				return err
			}

			return generate(cmd.OutOrStdout(), out, record.GenerateOptions{
				Count: count,
				Size:  size,
				Seed:  seed,
				Plant: plants,
			})
		},
	}

	f := cmd.Flags()
	f.IntP("count", "n", 1000, "Number of records")
	f.Int("size", config.DefaultRecordSize, "Record width in bytes")
	f.Uint64("seed", 1, "Seed of the body generator")
	f.StringP("out", "o", "", "Output file, stdout when empty")
	f.StringArray("plant", nil, "Plant text at the start of a body, as id:text (repeatable)")

	return cmd
}

func generate(stdout io.Writer, path string, opts record.GenerateOptions) error {
	w := stdout

	if path != "" {
		file, err := os.Create(path)
		if err != nil {
			return fseekerr.New(fseekerr.CodeSourceError, "failed to create output",
				fseekerr.WithError(err), fseekerr.WithDetails(fseekerr.Details{"path": path}))
		}

		defer func() {
			if err := file.Close(); err != nil {
				log.WithError(err).Warn("Failed to close output")
			}
		}()

		w = file
	}

	sum, err := record.Generate(w, opts)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"records": sum.Records,
		"bytes":   sum.Bytes,
		"blake2b": hex.EncodeToString(sum.Digest[:]),
	}).Info("Generated records")

	return nil
}

// parsePlants turns "id:text" arguments into a plant map.
func parsePlants(args []string) (map[int]string, error) {
	plants := make(map[int]string, len(args))

	for _, arg := range args {
		rawID, text, ok := strings.Cut(arg, ":")
		if !ok || text == "" {
			return nil, fseekerr.New(fseekerr.CodeInvalidInput, "plant must be id:text",
				fseekerr.WithDetails(fseekerr.Details{"plant": arg}))
		}

		id, err := strconv.Atoi(rawID)
		if err != nil || id < 0 {
			return nil, fseekerr.New(fseekerr.CodeInvalidInput, "plant id must be a non-negative integer",
				fseekerr.WithDetails(fseekerr.Details{"plant": arg}))
		}

		plants[id] = text
	}

	return plants, nil
}
