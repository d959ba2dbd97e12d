// Package shared holds small helpers needed by more than one package.
package shared

import "strings"

// modernc.org/sqlite surfaces lock contention as plain error strings, so the
// classification here is textual.

// IsSQLiteBusyError reports whether err is a SQLITE_BUSY failure, raised when
// another connection holds the write lock.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError reports whether err is a "database is locked" failure,
// the other wording the driver uses for the same condition.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports whether err is either form of SQLite lock
// contention. The store retries writes that fail this way.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}
