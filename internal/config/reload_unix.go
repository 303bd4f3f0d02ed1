//go:build !windows

package config

import (
	"fmt"
	"os"
	"syscall"
)

var reloadSignals = map[string]os.Signal{
	"SIGHUP":  syscall.SIGHUP,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

// ParseSignal maps a reload signal name to the OS signal.
func ParseSignal(name string) (os.Signal, error) {
	sig, ok := reloadSignals[name]
	if !ok {
		return nil, fmt.Errorf("unsupported reload signal %q (want SIGHUP, SIGUSR1 or SIGUSR2)", name)
	}
	return sig, nil
}
