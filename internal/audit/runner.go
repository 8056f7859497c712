// Package audit orchestrates one end-to-end staleness run: directory fetch,
// login-activity indexing, classification, and report output.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tmv1-tools/visionone-audit/internal/config"
	"github.com/tmv1-tools/visionone-audit/internal/console"
	"github.com/tmv1-tools/visionone-audit/internal/metrics"
	"github.com/tmv1-tools/visionone-audit/internal/report"
	"github.com/tmv1-tools/visionone-audit/internal/staleness"
	"github.com/tmv1-tools/visionone-audit/internal/visionone"
)

// Summary is what a completed run reports back to the command layer.
type Summary struct {
	TotalAccounts   int
	Flagged         int
	LogEntries      int
	MalformedSkips  int
	UsersWithLogins int
	OutputPath      string
}

type Runner struct {
	cfg     config.Config
	client  *visionone.Client
	console *console.Printer
	diag    *slog.Logger

	// now is injected for deterministic classification tests.
	now func() time.Time
}

func NewRunner(cfg config.Config, client *visionone.Client, printer *console.Printer, diag *slog.Logger) *Runner {
	if printer == nil {
		printer = console.NewPlain(nil)
	}
	if diag == nil {
		diag = slog.Default()
	}
	return &Runner{
		cfg:     cfg,
		client:  client,
		console: printer,
		diag:    diag,
		now:     time.Now,
	}
}

// Run executes the audit. The returned error is non-nil only for the one
// unrecoverable case: failing to fetch the account directory. Everything
// after that point degrades to partial data with diagnostics.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	r.console.Successf("Fetching IAM accounts...")
	accounts, err := r.client.ListAccounts(ctx)
	if err != nil {
		r.diag.Error("account directory fetch failed", "error", err)
		return Summary{}, fmt.Errorf("fetching IAM accounts: %w", err)
	}
	r.console.Noticef("Total IAM accounts retrieved: %d", len(accounts))
	metrics.AccountsSeenTotal.Add(float64(len(accounts)))

	var summary Summary
	summary.TotalAccounts = len(accounts)

	index := staleness.NewIndex()
	switch r.cfg.ScanMode {
	case config.ScanModePerUser:
		r.indexPerUser(ctx, accounts, index, &summary)
	default:
		r.indexGlobal(ctx, index, &summary)
	}
	summary.UsersWithLogins = index.Len()
	r.console.Noticef("Total audit logs retrieved: %d", summary.LogEntries)
	r.console.Noticef("Total unique users with login data: %d", index.Len())

	candidates := staleness.Classify(accounts, index, r.now(), r.cfg.StaleAfter, r.diag)
	summary.Flagged = len(candidates)
	metrics.AccountsFlaggedTotal.Add(float64(len(candidates)))
	r.console.Successf("Processing complete.")

	path, err := report.WriteFile(r.cfg.OutputFile, candidates)
	if err != nil {
		r.diag.Error("writing report failed", "path", r.cfg.OutputFile, "error", err)
		return summary, fmt.Errorf("writing report: %w", err)
	}
	summary.OutputPath = path
	if path == "" {
		r.console.Errorf("No accounts found that need to be removed.")
	} else {
		r.console.Noticef("Filtered accounts saved to: %s", path)
	}

	r.console.Noticef("Total IAM accounts: %d", summary.TotalAccounts)
	r.console.Noticef("Total accounts scheduled for removal: %d", summary.Flagged)
	return summary, nil
}

// indexGlobal walks the whole audit-log stream once. A failure mid-walk
// keeps whatever pages arrived; the run proceeds on partial data.
func (r *Runner) indexGlobal(ctx context.Context, index *staleness.Index, summary *Summary) {
	r.console.Successf("Fetching audit logs...")
	rawEntries, err := r.client.ListAuditLogsGlobal(ctx)
	if err != nil {
		r.diag.Warn("audit-log fetch incomplete, proceeding with partial data",
			"entries_kept", len(rawEntries), "error", err)
		r.console.Errorf("Audit-log fetch incomplete. Check %s", r.cfg.DiagFile)
	}
	summary.LogEntries += len(rawEntries)
	summary.MalformedSkips += r.fold(rawEntries, index)
}

// indexPerUser issues one filtered audit-log query per account, optionally
// fanned out across workers. Each worker reduces into its own index; the
// shards are merged after the group completes so the live index stays
// single-owner.
func (r *Runner) indexPerUser(ctx context.Context, accounts []visionone.Account, index *staleness.Index, summary *Summary) {
	type shard struct {
		index     *staleness.Index
		entries   int
		malformed int
	}
	shards := make([]shard, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for i, account := range accounts {
		i, account := i, account
		g.Go(func() error {
			local := staleness.NewIndex()
			rawEntries, err := r.client.ListUserLoginActivity(gctx, account.Email)
			if err != nil {
				// Per-user failures never abort the run.
				r.diag.Warn("login activity fetch failed for user",
					"user", account.Email, "entries_kept", len(rawEntries), "error", err)
			}
			if len(rawEntries) == 0 && err == nil {
				r.diag.Warn("no login activity found for user", "user", account.Email)
			}
			malformed := r.fold(rawEntries, local)
			shards[i] = shard{index: local, entries: len(rawEntries), malformed: malformed}
			return nil
		})
	}
	_ = g.Wait()

	for i := range shards {
		index.Merge(shards[i].index)
		summary.LogEntries += shards[i].entries
		summary.MalformedSkips += shards[i].malformed
	}
	r.console.Noticef("Processed %d/%d users", len(accounts), len(accounts))
}

// fold reduces raw audit-log entries into the index, skipping malformed
// shapes with a warning each. Returns the number skipped.
func (r *Runner) fold(rawEntries []json.RawMessage, index *staleness.Index) int {
	malformed := 0
	for _, raw := range rawEntries {
		ev, err := visionone.DecodeLoginEvent(raw)
		if err != nil {
			malformed++
			metrics.MalformedEntriesTotal.Inc()
			var malErr *visionone.MalformedEntryError
			if errors.As(err, &malErr) {
				r.diag.Warn("skipping audit-log entry", "reason", malErr.Reason)
			} else {
				r.diag.Warn("skipping audit-log entry", "error", err)
			}
			continue
		}
		index.Record(ev)
	}
	return malformed
}
