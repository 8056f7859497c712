package audit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tmv1-tools/visionone-audit/internal/config"
	"github.com/tmv1-tools/visionone-audit/internal/console"
	"github.com/tmv1-tools/visionone-audit/internal/visionone"
)

var runnerNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func testConfig(t *testing.T, scanMode string) config.Config {
	t.Helper()
	return config.Config{
		ScanMode:   scanMode,
		Workers:    1,
		PageTop:    100,
		StaleAfter: 90 * 24 * time.Hour,
		OutputFile: filepath.Join(t.TempDir(), "report.csv"),
		DiagFile:   "error.log",
	}
}

func newRunner(t *testing.T, srvURL string, cfg config.Config, out *bytes.Buffer, diag *bytes.Buffer) *Runner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(diag, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := visionone.New(srvURL, "tok", visionone.Options{
		PageTop: cfg.PageTop,
		Logger:  logger,
		Sleep:   noSleep,
	})
	if err != nil {
		t.Fatalf("visionone.New: %v", err)
	}
	r := NewRunner(cfg, client, console.NewPlain(out), logger)
	r.now = func() time.Time { return runnerNow }
	return r
}

func TestRunGlobalScanFlagsStaleAndMissing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/v3.0/iam/accounts"):
			fmt.Fprint(w, `{"items":[
				{"id":"u1","email":"a@x.com","role":"Admin"},
				{"id":"u2","email":"b@x.com","role":"Viewer"},
				{"id":"u3","email":"c@x.com","role":"Auditor"}
			]}`)
		case strings.HasPrefix(r.URL.Path, "/v3.0/audit/logs"):
			// u2 recent, u3 stale, u1 absent; one malformed entry.
			fmt.Fprint(w, `{"items":[
				{"activity":"Log on","loggedDateTime":"2024-05-20T00:00:00Z","details":{"identifier":{"id":"u2"}}},
				{"activity":"Log on","loggedDateTime":"2024-01-01T00:00:00Z","details":{"identifier":{"id":"u3"}}},
				{"activity":"Log on","loggedDateTime":"2024-02-01T00:00:00Z","details":{"identifier":"bogus"}}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out, diag bytes.Buffer
	cfg := testConfig(t, config.ScanModeGlobal)
	runner := newRunner(t, srv.URL, cfg, &out, &diag)

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.TotalAccounts != 3 {
		t.Fatalf("TotalAccounts=%d want 3", summary.TotalAccounts)
	}
	if summary.Flagged != 2 {
		t.Fatalf("Flagged=%d want 2 (u1 absent, u3 stale)", summary.Flagged)
	}
	if summary.MalformedSkips != 1 {
		t.Fatalf("MalformedSkips=%d want 1", summary.MalformedSkips)
	}
	if summary.UsersWithLogins != 2 {
		t.Fatalf("UsersWithLogins=%d want 2", summary.UsersWithLogins)
	}

	data, err := os.ReadFile(summary.OutputPath)
	if err != nil {
		t.Fatalf("ReadFile(%q): %v", summary.OutputPath, err)
	}
	want := "UserId,RoleName,RequestType\na@x.com,Admin,Remove\nc@x.com,Auditor,Remove\n"
	if string(data) != want {
		t.Fatalf("csv=%q want %q", data, want)
	}
	if !strings.Contains(diag.String(), "skipping audit-log entry") {
		t.Fatalf("malformed entry warning missing from diagnostics: %q", diag.String())
	}
}

func TestRunPerUserScanQueriesEachAccount(t *testing.T) {
	t.Parallel()

	var auditRequests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/v3.0/iam/accounts"):
			fmt.Fprint(w, `{"items":[
				{"id":"u1","email":"a@x.com","role":"Admin"},
				{"id":"u2","email":"b@x.com","role":"Viewer"}
			]}`)
		case strings.HasPrefix(r.URL.Path, "/v3.0/audit/logs"):
			auditRequests++
			filter := r.Header.Get("TMV1-Filter")
			if strings.Contains(filter, "b@x.com") {
				fmt.Fprint(w, `{"items":[{"activity":"Log on","loggedDateTime":"2024-05-20T00:00:00Z","details":{"identifier":{"id":"u2"}}}]}`)
				return
			}
			fmt.Fprint(w, `{"items":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out, diag bytes.Buffer
	cfg := testConfig(t, config.ScanModePerUser)
	runner := newRunner(t, srv.URL, cfg, &out, &diag)

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if auditRequests != 2 {
		t.Fatalf("auditRequests=%d want one per account", auditRequests)
	}
	if summary.Flagged != 1 {
		t.Fatalf("Flagged=%d want 1", summary.Flagged)
	}
	if !strings.Contains(diag.String(), "no login activity found for user") {
		t.Fatalf("missing never-logged-in warning: %q", diag.String())
	}
}

func TestRunPerUserWorkersMergeDeterministically(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/v3.0/iam/accounts"):
			fmt.Fprint(w, `{"items":[
				{"id":"u1","email":"a@x.com","role":"Admin"},
				{"id":"u2","email":"b@x.com","role":"Viewer"},
				{"id":"u3","email":"c@x.com","role":"Auditor"},
				{"id":"u4","email":"d@x.com","role":"Viewer"}
			]}`)
		case strings.HasPrefix(r.URL.Path, "/v3.0/audit/logs"):
			fmt.Fprint(w, `{"items":[{"activity":"Log on","loggedDateTime":"2024-05-20T00:00:00Z","details":{"identifier":{"id":"u1"}}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out, diag bytes.Buffer
	cfg := testConfig(t, config.ScanModePerUser)
	cfg.Workers = 3
	runner := newRunner(t, srv.URL, cfg, &out, &diag)

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// u1 is recent via every per-user response; the other three are flagged
	// in directory order.
	if summary.Flagged != 3 {
		t.Fatalf("Flagged=%d want 3", summary.Flagged)
	}
	data, err := os.ReadFile(summary.OutputPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "UserId,RoleName,RequestType\nb@x.com,Viewer,Remove\nc@x.com,Auditor,Remove\nd@x.com,Viewer,Remove\n"
	if string(data) != want {
		t.Fatalf("csv=%q want %q", data, want)
	}
}

func TestRunDirectoryFailureIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	var out, diag bytes.Buffer
	cfg := testConfig(t, config.ScanModeGlobal)
	runner := newRunner(t, srv.URL, cfg, &out, &diag)

	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatal("expected fatal error for directory fetch failure")
	}
	if !strings.Contains(diag.String(), "account directory fetch failed") {
		t.Fatalf("diagnostics missing fatal record: %q", diag.String())
	}
}

func TestRunAuditLogFailureDegradesToPartialData(t *testing.T) {
	t.Parallel()

	var auditRequests int
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v3.0/iam/accounts"):
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"items":[
				{"id":"u1","email":"a@x.com","role":"Admin"},
				{"id":"u2","email":"b@x.com","role":"Viewer"}
			]}`)
		case strings.HasPrefix(r.URL.Path, "/v3.0/audit/logs"):
			auditRequests++
			if auditRequests == 1 {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprintf(w, `{"items":[{"activity":"Log on","loggedDateTime":"2024-05-20T00:00:00Z","details":{"identifier":{"id":"u2"}}}],"nextLink":"%s/v3.0/audit/logs?page=2"}`, srv.URL)
				return
			}
			http.Error(w, "denied", http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out, diag bytes.Buffer
	cfg := testConfig(t, config.ScanModeGlobal)
	runner := newRunner(t, srv.URL, cfg, &out, &diag)

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run must not fail on audit-log errors: %v", err)
	}
	// The first page arrived, so u2 stays kept and only u1 is flagged.
	if summary.Flagged != 1 {
		t.Fatalf("Flagged=%d want 1", summary.Flagged)
	}
	if !strings.Contains(diag.String(), "audit-log fetch incomplete") {
		t.Fatalf("diagnostics missing partial-data warning: %q", diag.String())
	}
	if !strings.Contains(out.String(), "Check error.log") {
		t.Fatalf("console must point at the diagnostics file: %q", out.String())
	}
}

func TestRunZeroCandidatesWritesNoFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/v3.0/iam/accounts"):
			fmt.Fprint(w, `{"items":[{"id":"u1","email":"a@x.com","role":"Admin"}]}`)
		case strings.HasPrefix(r.URL.Path, "/v3.0/audit/logs"):
			fmt.Fprint(w, `{"items":[{"activity":"Log on","loggedDateTime":"2024-05-20T00:00:00Z","details":{"identifier":{"id":"u1"}}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out, diag bytes.Buffer
	cfg := testConfig(t, config.ScanModeGlobal)
	runner := newRunner(t, srv.URL, cfg, &out, &diag)

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Flagged != 0 {
		t.Fatalf("Flagged=%d want 0", summary.Flagged)
	}
	if summary.OutputPath != "" {
		t.Fatalf("OutputPath=%q want empty", summary.OutputPath)
	}
	if _, statErr := os.Stat(cfg.OutputFile); !os.IsNotExist(statErr) {
		t.Fatal("no report file should exist for zero candidates")
	}
	if !strings.Contains(out.String(), "No accounts found that need to be removed.") {
		t.Fatalf("console output missing empty-report notice: %q", out.String())
	}
}
