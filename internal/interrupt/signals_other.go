//go:build !unix

package interrupt

import (
	"os"

	"github.com/flrossetto/fseek/internal/fseekerr"
)

// ParseSignal always fails: the signal experiments need a unix system.
func ParseSignal(name string) (string, os.Signal, error) {
	return "", nil, fseekerr.New(fseekerr.CodeConfigError, "signals are not supported on this platform: "+name)
}

func uncatchable(os.Signal) bool {
	return false
}

func raise(os.Signal) error {
	return fseekerr.New(fseekerr.CodeSignalError, "signals are not supported on this platform")
}
