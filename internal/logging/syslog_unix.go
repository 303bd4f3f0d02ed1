//go:build !windows && !plan9

package logging

import "log/syslog"

func openSyslog(tag string) (PriorityWriter, error) {
	return syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
}
