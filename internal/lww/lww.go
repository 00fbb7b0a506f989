// Package lww implements the last-writer-wins conflict policy shared by the
// local apply path and the remote authority.
//
// Timestamps are ISO-8601 UTC strings with millisecond precision; for that
// format lexicographic order equals chronological order, so the policy is a
// plain string comparison. Ties favor the incoming version, which makes
// re-applying the same write idempotent.
package lww

import "time"

// Epoch is the cursor value for a device that has never pulled.
const Epoch = "1970-01-01T00:00:00.000Z"

// StampLayout is the timestamp format used on every entity and cursor.
const StampLayout = "2006-01-02T15:04:05.000Z"

// Accept reports whether an incoming version with timestamp incoming may
// replace the stored version with timestamp current. A missing stored
// timestamp (empty string) always loses.
func Accept(current, incoming string) bool {
	if current == "" {
		return true
	}
	return current <= incoming
}

// Now returns the current time formatted as a sync timestamp.
func Now() string {
	return Stamp(time.Now())
}

// Stamp formats t as a sync timestamp.
func Stamp(t time.Time) string {
	return t.UTC().Format(StampLayout)
}
