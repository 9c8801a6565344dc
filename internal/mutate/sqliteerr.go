package mutate

import "strings"

// isUniqueConstraintErr reports whether err came from a SQLite UNIQUE index
// violation. modernc.org/sqlite's error Error() strings carry the SQLite
// result code text ("UNIQUE constraint failed: ..."), which is the only
// stable signal without importing the driver's internal error type.
func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
