//go:build unix

package interrupt

import (
	"os"
	"strings"
	"syscall"

	"github.com/flrossetto/fseek/internal/fseekerr"
)

//nolint:gochecknoglobals
var signalsByName = map[string]syscall.Signal{
	"sigusr1": syscall.SIGUSR1,
	"sigterm": syscall.SIGTERM,
	"sigkill": syscall.SIGKILL,
	"sigstop": syscall.SIGSTOP,
}

// ParseSignal maps a case-insensitive signal name to its display name and value.
func ParseSignal(name string) (string, os.Signal, error) {
	sig, ok := signalsByName[strings.ToLower(name)]
	if !ok {
		return "", nil, fseekerr.New(fseekerr.CodeConfigError,
			"illegal signal "+name+"; correct signals are: sigusr1, sigterm, sigkill and sigstop")
	}

	return strings.ToUpper(name), sig, nil
}

func uncatchable(sig os.Signal) bool {
	return sig == syscall.SIGKILL || sig == syscall.SIGSTOP
}

func raise(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fseekerr.New(fseekerr.CodeSignalError, "not a system signal")
	}

	if err := syscall.Kill(os.Getpid(), s); err != nil {
		return fseekerr.New(fseekerr.CodeSignalError, "failed to send signal", fseekerr.WithError(err))
	}

	return nil
}
