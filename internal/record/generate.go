package record

import (
	"bufio"
	"io"
	"math/rand/v2"
	"strconv"

	"github.com/flrossetto/fseek/internal/fseekerr"
	"golang.org/x/crypto/blake2b"
)

const bodyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateOptions controls Generate.
type GenerateOptions struct {
	// Count is the number of records, numbered from 0.
	Count int
	// Size is the block width in bytes, terminator included.
	Size int
	// Seed drives the body generator; equal seeds give equal files.
	Seed uint64
	// Plant overwrites the start of a record's body, keyed by record id.
	Plant map[int]string
}

// Summary describes a generated source.
type Summary struct {
	Records int
	Bytes   int64
	Digest  [blake2b.Size256]byte
}

// Generate writes Count records of Size bytes to w. Each body is filled with
// random upper-case letters and digits so the block is exactly Size bytes.
func Generate(w io.Writer, opts GenerateOptions) (Summary, error) {
	if opts.Count < 0 {
		return Summary{}, fseekerr.New(fseekerr.CodeInvalidInput, "record count cannot be negative")
	}

	if opts.Size < MinSize {
		return Summary{}, fseekerr.New(fseekerr.CodeInvalidInput, "record size too small",
			fseekerr.WithDetails(fseekerr.Details{"size": opts.Size, "min": MinSize}))
	}

	hash, err := blake2b.New256(nil)
	if err != nil {
		return Summary{}, fseekerr.New(fseekerr.CodeInternalError, "failed to create digest", fseekerr.WithError(err))
	}

	out := bufio.NewWriter(io.MultiWriter(w, hash))
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	block := make([]byte, opts.Size)

	var sum Summary

	for id := range opts.Count {
		if err := fill(block, id, opts.Plant[id], rng); err != nil {
			return sum, err
		}

		n, err := out.Write(block)
		sum.Bytes += int64(n)

		if err != nil {
			return sum, fseekerr.New(fseekerr.CodeInternalError, "failed to write record", fseekerr.WithError(err))
		}

		sum.Records++
	}

	if err := out.Flush(); err != nil {
		return sum, fseekerr.New(fseekerr.CodeInternalError, "failed to flush records", fseekerr.WithError(err))
	}

	copy(sum.Digest[:], hash.Sum(nil))

	return sum, nil
}

func fill(block []byte, id int, plant string, rng *rand.Rand) error {
	prefix := strconv.Itoa(id)
	if len(prefix)+2 > len(block) {
		return fseekerr.New(fseekerr.CodeInvalidInput, "record id does not fit the record size",
			fseekerr.WithDetails(fseekerr.Details{"id": id, "size": len(block)}))
	}

	n := copy(block, prefix)
	block[n] = Separator
	body := block[n+1 : len(block)-1]

	for i := range body {
		body[i] = bodyAlphabet[rng.IntN(len(bodyAlphabet))]
	}

	copy(body, plant)
	block[len(block)-1] = '\n'

	return nil
}
