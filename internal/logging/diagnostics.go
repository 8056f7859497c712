package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Diagnostics is a file-backed logger for non-fatal anomalies: malformed
// records, missing logins, retry exhaustion. It is kept separate from the
// operator-facing console so the console can stay readable while every
// recoverable problem is still captured for later inspection.
type Diagnostics struct {
	*slog.Logger
	file *os.File
}

// OpenDiagnostics truncates and opens the diagnostics file at path. The
// returned Diagnostics must be closed by the caller; Close flushes pending
// writes before the process exits.
func OpenDiagnostics(path, runID string) (*Diagnostics, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("diagnostics file path is required")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(handler).With("app", appName)
	if runID = strings.TrimSpace(runID); runID != "" {
		logger = logger.With("run_id", runID)
	}
	return &Diagnostics{Logger: logger, file: f}, nil
}

func (d *Diagnostics) Close() error {
	if d == nil || d.file == nil {
		return nil
	}
	if err := d.file.Sync(); err != nil && !errors.Is(err, os.ErrClosed) {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}

// Path returns the absolute location of the diagnostics file when it can be
// resolved, falling back to the raw name.
func (d *Diagnostics) Path() string {
	if d == nil || d.file == nil {
		return ""
	}
	return d.file.Name()
}

var _ io.Closer = (*Diagnostics)(nil)
