//go:build windows

package config

import (
	"fmt"
	"os"
)

// ParseSignal accepts the Unix reload signal names but returns a nil signal:
// Windows has no SIGHUP, so reloads come from the file watcher or the admin API.
func ParseSignal(name string) (os.Signal, error) {
	switch name {
	case "SIGHUP", "SIGUSR1", "SIGUSR2":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported reload signal %q (want SIGHUP, SIGUSR1 or SIGUSR2)", name)
}
