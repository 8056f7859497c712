package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultBaseURL        = "https://api.xdr.trendmicro.com"
	defaultPageTop        = 100
	defaultHTTPTimeout    = 30 * time.Second
	defaultStaleAfter     = 90 * 24 * time.Hour
	defaultInterPageDelay = 500 * time.Millisecond
	defaultOutputFile     = "filtered_accounts_report.csv"
	defaultDiagFile       = "error.log"
)

// Scan modes for the audit-log phase. Global walks the whole log stream
// chronologically; per-user issues one filtered query per directory account.
const (
	ScanModeGlobal  = "global"
	ScanModePerUser = "per-user"
)

type Config struct {
	BaseURL        string
	Token          string
	PageTop        int
	ScanMode       string
	Workers        int
	HTTPTimeout    time.Duration
	StaleAfter     time.Duration
	InterPageDelay time.Duration
	OutputFile     string
	DiagFile       string
	MetricsAddr    string
}

// Load reads configuration from the environment (and a .env file when
// present). The bearer token comes from the CLI flag, not the environment,
// so it is left empty here.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		BaseURL:        strings.TrimRight(getenvDefault("V1_API_BASE_URL", defaultBaseURL), "/"),
		PageTop:        getenvIntDefault("V1_PAGE_TOP", defaultPageTop),
		ScanMode:       strings.ToLower(strings.TrimSpace(getenvDefault("V1_SCAN_MODE", ScanModeGlobal))),
		Workers:        getenvIntDefault("V1_SCAN_WORKERS", 1),
		HTTPTimeout:    defaultHTTPTimeout,
		StaleAfter:     defaultStaleAfter,
		InterPageDelay: defaultInterPageDelay,
		OutputFile:     getenvDefault("AUDIT_OUTPUT_FILE", defaultOutputFile),
		DiagFile:       getenvDefault("AUDIT_DIAG_FILE", defaultDiagFile),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
	}

	if v := os.Getenv("V1_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HTTPTimeout = d
		}
	}
	if v := os.Getenv("AUDIT_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.StaleAfter = d
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks the fields a run cannot proceed without. Token presence is
// checked separately by the command layer because it arrives via flag.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("V1_API_BASE_URL is required")
	}
	switch c.ScanMode {
	case ScanModeGlobal, ScanModePerUser:
	default:
		return fmt.Errorf("V1_SCAN_MODE must be one of: %s, %s", ScanModeGlobal, ScanModePerUser)
	}
	if c.PageTop < 1 {
		return errors.New("V1_PAGE_TOP must be at least 1")
	}
	if c.Workers < 1 {
		return errors.New("V1_SCAN_WORKERS must be at least 1")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
