// Package record decodes the fixed-width records scanned by fseek.
//
// A record is a block of exactly Size bytes:
//
//	<decimal id><separator><body ...><padding ...><terminator>
//
// The last byte is a line terminator and is normalized to NUL before the block
// is inspected, so the text of a record ends at the first NUL byte.
package record

import (
	"bytes"
	"strconv"

	"github.com/flrossetto/fseek/internal/fseekerr"
)

const (
	// Separator splits the identifier from the body.
	Separator = ' '

	// MinSize is the smallest block that can hold an id, a separator and a terminator.
	MinSize = 3
)

// Record is a decoded view over a block. Body aliases the block.
type Record struct {
	ID   int
	Body []byte
}

// Contains reports whether the body holds query as a case-sensitive substring.
func (r Record) Contains(query []byte) bool {
	return bytes.Contains(r.Body, query)
}

// Parse normalizes the terminator of block in place and decodes it.
//
// The identifier is the leading token up to the first separator found after
// the first byte; the body is everything after that separator up to the
// first NUL.
func Parse(block []byte) (Record, error) {
	if len(block) < MinSize {
		return Record{}, fseekerr.New(fseekerr.CodeReadFault, "record too short",
			fseekerr.WithDetails(fseekerr.Details{"size": len(block)}))
	}

	block[len(block)-1] = 0

	text := block
	if end := bytes.IndexByte(block, 0); end >= 0 {
		text = block[:end]
	}

	sep := -1
	if len(text) > 1 {
		if i := bytes.IndexByte(text[1:], Separator); i >= 0 {
			sep = i + 1
		}
	}

	if sep < 0 {
		return Record{}, fseekerr.New(fseekerr.CodeReadFault, "record has no separator")
	}

	id, err := strconv.Atoi(string(text[:sep]))
	if err != nil {
		return Record{}, fseekerr.New(fseekerr.CodeReadFault, "record id is not a decimal integer",
			fseekerr.WithError(err))
	}

	return Record{ID: id, Body: text[sep+1:]}, nil
}
