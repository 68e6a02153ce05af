package store

import (
	"strings"
	"time"
)

const (
	busyRetries  = 5
	busyBaseWait = 20 * time.Millisecond
)

// isSQLiteBusy reports whether err is SQLite refusing a write because
// another connection holds the lock.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// retryOnBusy runs f, retrying with linear backoff while it fails with a
// busy error. Other errors are returned immediately.
func retryOnBusy(f func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if err = f(); !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * busyBaseWait)
	}
	return err
}
