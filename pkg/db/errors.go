package db

import "strings"

// IsBusy reports whether the error is a lock/contention failure from the
// store (sqlite "database is locked"/"busy", postgres lock timeouts). Callers
// surface these as retryable WRITE_CONTENTION errors rather than failing hard.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "lock timeout") ||
		strings.Contains(msg, "deadlock detected")
}

// IsUniqueViolation reports whether the error references a unique constraint
// failure on either supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key value")
}
