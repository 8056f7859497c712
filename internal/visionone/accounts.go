package visionone

import (
	"context"
	"encoding/json"
	"strconv"
)

// unknownField is the sentinel for directory fields the API left blank.
// Records stay reportable; only a missing stable identifier drops one.
const unknownField = "Unknown"

// Account is one normalized IAM directory entry. UserID is the stable
// identifier used to correlate against audit-log events; Email is what a
// human recognizes and what the removal report shows.
type Account struct {
	UserID string
	Email  string
	Role   string
}

// ListAccounts walks the full account directory. A fetch error here is
// returned as-is and is fatal to the audit: without the complete directory
// the report would silently under-count.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	endpoint := c.baseURL + accountsPath + "?top=" + strconv.Itoa(c.pageTop)

	rawItems, err := c.listPaged(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	out := make([]Account, 0, len(rawItems))
	for _, raw := range rawItems {
		var item struct {
			ID    string `json:"id"`
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			c.logger.Warn("skipping undecodable account entry", "error", err)
			continue
		}
		if item.ID == "" {
			c.logger.Warn("skipping account with no stable identifier", "email", item.Email)
			continue
		}
		if item.Email == "" {
			item.Email = unknownField
		}
		if item.Role == "" {
			item.Role = unknownField
		}
		out = append(out, Account{UserID: item.ID, Email: item.Email, Role: item.Role})
	}
	return out, nil
}
