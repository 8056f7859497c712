package visionone

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

// ActivityLogOn is the audit-log activity value marking a sign-in.
const ActivityLogOn = "Log on"

// LoginEvent is one well-formed sign-in candidate extracted from a raw
// audit-log entry.
type LoginEvent struct {
	UserID   string
	Activity string
	LoggedAt string
}

// Qualifies reports whether the event should update the last-login index.
func (e LoginEvent) Qualifies() bool {
	return e.UserID != "" && e.Activity == ActivityLogOn && e.LoggedAt != ""
}

// MalformedEntryError marks an audit-log entry whose identity block has an
// unexpected shape. These are skipped and counted, never fatal.
type MalformedEntryError struct {
	Reason string
}

func (e *MalformedEntryError) Error() string {
	return "malformed audit-log entry: " + e.Reason
}

// ListAuditLogsGlobal fetches the whole audit-log stream chronologically.
// Partial results are returned alongside the error so the caller can
// proceed with what was gathered.
func (c *Client) ListAuditLogsGlobal(ctx context.Context) ([]json.RawMessage, error) {
	endpoint := c.baseURL + auditLogsPath + "?limit=" + strconv.Itoa(c.pageTop)
	return c.listPaged(ctx, endpoint, nil)
}

// ListUserLoginActivity fetches the sign-in entries for a single user via a
// server-side filter expression carried in the TMV1-Filter header.
func (c *Client) ListUserLoginActivity(ctx context.Context, email string) ([]json.RawMessage, error) {
	query := url.Values{
		"top":     []string{strconv.Itoa(c.pageTop)},
		"orderBy": []string{"loggedDateTime desc"},
		"labels":  []string{"all"},
	}
	endpoint := c.baseURL + auditLogsPath + "?" + query.Encode()

	extra := http.Header{}
	extra.Set(filterHeader, loginFilterExpr(email))
	return c.listPaged(ctx, endpoint, extra)
}

func loginFilterExpr(email string) string {
	// Single quotes in the expression delimit values; strip them from the
	// interpolated email rather than attempting to escape.
	email = strings.Map(func(r rune) rune {
		if r == '\'' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, email)
	return fmt.Sprintf("(category eq 'Logon and Logoff') and (loggedUser eq '%s')", email)
}

// DecodeLoginEvent converts a raw audit-log entry into a LoginEvent at the
// fetch boundary. A MalformedEntryError means the identity block had an
// unexpected shape (a bare string, a non-object, or a missing id) and the
// entry must be skipped with a warning. Entries that decode cleanly but do
// not qualify (wrong activity, no timestamp) are returned without error and
// filtered by Qualifies.
func DecodeLoginEvent(raw json.RawMessage) (LoginEvent, error) {
	var entry struct {
		Activity string `json:"activity"`
		LoggedAt string `json:"loggedDateTime"`
		Details  struct {
			Identifier json.RawMessage `json:"identifier"`
		} `json:"details"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return LoginEvent{}, &MalformedEntryError{Reason: "undecodable entry: " + err.Error()}
	}

	ident := trimRaw(entry.Details.Identifier)
	if len(ident) == 0 || string(ident) == "null" {
		return LoginEvent{}, &MalformedEntryError{Reason: "missing identifier"}
	}
	if ident[0] == '"' {
		return LoginEvent{}, &MalformedEntryError{Reason: "identifier is a string, expected object"}
	}
	if ident[0] != '{' {
		return LoginEvent{}, &MalformedEntryError{Reason: "identifier is not an object"}
	}

	var identifier struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(ident, &identifier); err != nil {
		return LoginEvent{}, &MalformedEntryError{Reason: "undecodable identifier: " + err.Error()}
	}
	if identifier.ID == "" {
		return LoginEvent{}, &MalformedEntryError{Reason: "identifier missing id"}
	}

	return LoginEvent{
		UserID:   identifier.ID,
		Activity: entry.Activity,
		LoggedAt: entry.LoggedAt,
	}, nil
}

func trimRaw(raw json.RawMessage) json.RawMessage {
	return json.RawMessage(strings.TrimSpace(string(raw)))
}
