package staleness

import "time"

// timestampLayout is the only timestamp format the audit-log stream emits.
const timestampLayout = "2006-01-02T15:04:05Z"

// DefaultStaleAfter is the trailing window outside which an account counts
// as stale.
const DefaultStaleAfter = 90 * 24 * time.Hour

// IsRecent reports whether ts falls inside the trailing staleAfter window
// ending at now; the window boundary itself counts as recent. A parse error
// is returned for diagnostics, and the result is always false in that case:
// an unreadable timestamp must flag the account rather than excuse it.
func IsRecent(ts string, now time.Time, staleAfter time.Duration) (bool, error) {
	t, err := time.ParseInLocation(timestampLayout, ts, time.UTC)
	if err != nil {
		return false, err
	}
	cutoff := now.UTC().Add(-staleAfter)
	return !t.Before(cutoff), nil
}
