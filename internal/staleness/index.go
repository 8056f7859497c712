// Package staleness holds the pure audit core: the last-login index, the
// recency classifier, and the removal-candidate assembly. Nothing here does
// I/O; fetching and reporting live in their own packages.
package staleness

import "github.com/tmv1-tools/visionone-audit/internal/visionone"

// Index maps a user id to the most recent loggedDateTime observed for it.
// Timestamps use the fixed ISO-8601 UTC layout, so lexicographic order is
// chronological order and the stored value only ever moves forward. Ties
// keep the first value seen.
type Index struct {
	last map[string]string
}

func NewIndex() *Index {
	return &Index{last: make(map[string]string)}
}

// Record folds one qualifying login event into the index and reports
// whether the entry changed.
func (x *Index) Record(ev visionone.LoginEvent) bool {
	if !ev.Qualifies() {
		return false
	}
	existing, ok := x.last[ev.UserID]
	if ok && ev.LoggedAt <= existing {
		return false
	}
	x.last[ev.UserID] = ev.LoggedAt
	return true
}

// Merge folds another index in, keeping the per-user maximum. Used to join
// per-worker results after a parallel per-user scan.
func (x *Index) Merge(other *Index) {
	if other == nil {
		return
	}
	for userID, loggedAt := range other.last {
		if existing, ok := x.last[userID]; !ok || loggedAt > existing {
			x.last[userID] = loggedAt
		}
	}
}

// Last returns the most recent login timestamp recorded for userID.
func (x *Index) Last(userID string) (string, bool) {
	v, ok := x.last[userID]
	return v, ok
}

func (x *Index) Len() int {
	return len(x.last)
}
