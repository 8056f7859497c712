// Package report serializes removal candidates to the CSV artifact the
// downstream access-review process consumes.
package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/tmv1-tools/visionone-audit/internal/staleness"
)

var columns = []string{"UserId", "RoleName", "RequestType"}

// Write streams candidates as CSV, header first.
func Write(w io.Writer, candidates []staleness.Candidate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, c := range candidates {
		if err := cw.Write([]string{c.UserEmail, c.Role, c.RequestType}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the report to path and returns its absolute location.
// With zero candidates no file is created and the returned path is empty.
func WriteFile(path string, candidates []staleness.Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Write(f, candidates); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}
