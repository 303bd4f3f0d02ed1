//go:build windows || plan9

package logging

import "errors"

func openSyslog(string) (PriorityWriter, error) {
	return nil, errors.New("syslog is not available on this platform")
}
