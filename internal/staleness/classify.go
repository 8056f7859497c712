package staleness

import (
	"log/slog"
	"time"

	"github.com/tmv1-tools/visionone-audit/internal/visionone"
)

// RequestTypeRemove is the disposition written for flagged accounts. Kept
// accounts produce no row at all.
const RequestTypeRemove = "Remove"

// Candidate is one account flagged for removal.
type Candidate struct {
	UserEmail   string
	Role        string
	RequestType string
}

// Classify walks accounts in directory order and flags every one whose last
// recorded login is absent, unparseable, or outside the staleAfter window.
// The same inputs always produce the same candidates in the same order.
func Classify(accounts []visionone.Account, idx *Index, now time.Time, staleAfter time.Duration, diag *slog.Logger) []Candidate {
	if diag == nil {
		diag = slog.Default()
	}

	var out []Candidate
	for _, account := range accounts {
		lastLogin, ok := idx.Last(account.UserID)
		if !ok {
			diag.Warn("no login activity found for user", "user", account.Email, "user_id", account.UserID)
			out = append(out, remove(account))
			continue
		}
		recent, err := IsRecent(lastLogin, now, staleAfter)
		if err != nil {
			diag.Warn("invalid last-login timestamp", "user", account.Email, "timestamp", lastLogin, "error", err)
		}
		if !recent {
			out = append(out, remove(account))
		}
	}
	return out
}

func remove(account visionone.Account) Candidate {
	return Candidate{
		UserEmail:   account.Email,
		Role:        account.Role,
		RequestType: RequestTypeRemove,
	}
}
