package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/go-tasks/internal/config"
	"github.com/basket/go-tasks/internal/persistence"
	"github.com/basket/go-tasks/internal/provider"
)

const (
	StatusPass = "PASS"
	StatusWarn = "WARN"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

type check func(context.Context, *config.Config, *persistence.Store) CheckResult

// Run executes all diagnostic checks. The database is opened once and
// shared by the checks that need it.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	var store *persistence.Store
	dbResult := CheckResult{Name: "Database", Status: StatusSkip, Message: "Config missing"}
	if cfg != nil {
		var err error
		store, err = persistence.Open(cfg.Database())
		if err != nil {
			dbResult = CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err), Detail: cfg.Database()}
		} else {
			defer store.Close()
			dbResult = checkDatabase(ctx, store)
		}
	}

	d.Results = append(d.Results, checkConfig(ctx, cfg, store), dbResult)
	for _, c := range []check{checkPermissions, checkTimezone, checkSearchIndex} {
		d.Results = append(d.Results, c(ctx, cfg, store))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config, _ *persistence.Store) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	if cfg.Missing {
		return CheckResult{Name: "Config", Status: StatusWarn, Message: "config.yaml missing, using defaults", Detail: config.ConfigPath(cfg.HomeDir)}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir), Detail: cfg.Fingerprint()}
}

func checkDatabase(ctx context.Context, store *persistence.Store) CheckResult {
	version, checksum, err := store.SchemaVersion(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Schema query failed: %v", err)}
	}
	var integrity string
	if err := store.DB().QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&integrity); err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Integrity check failed: %v", err)}
	}
	if integrity != "ok" {
		return CheckResult{Name: "Database", Status: StatusFail, Message: "Integrity check reported problems", Detail: integrity}
	}
	return CheckResult{Name: "Database", Status: StatusPass, Message: fmt.Sprintf("Schema v%d", version), Detail: checksum}
}

func checkPermissions(_ context.Context, cfg *config.Config, _ *persistence.Store) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	_ = os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

// checkTimezone compares the configured zone with the zone the stored
// instance sort keys were computed in.
func checkTimezone(ctx context.Context, cfg *config.Config, store *persistence.Store) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Timezone", Status: StatusSkip, Message: "Config missing"}
	}
	loc, err := cfg.Location()
	if err != nil {
		return CheckResult{Name: "Timezone", Status: StatusFail, Message: err.Error()}
	}
	if store == nil {
		return CheckResult{Name: "Timezone", Status: StatusSkip, Message: "Database unavailable"}
	}
	recorded, err := store.KVGet(ctx, provider.TimezoneKey)
	if err != nil {
		return CheckResult{Name: "Timezone", Status: StatusFail, Message: fmt.Sprintf("Read recorded zone: %v", err)}
	}
	switch recorded {
	case "":
		return CheckResult{Name: "Timezone", Status: StatusWarn, Message: fmt.Sprintf("No zone recorded yet, configured %s", loc)}
	case loc.String():
		return CheckResult{Name: "Timezone", Status: StatusPass, Message: fmt.Sprintf("Instances computed in %s", loc)}
	default:
		return CheckResult{
			Name:    "Timezone",
			Status:  StatusWarn,
			Message: fmt.Sprintf("Instances computed in %s but configured %s", recorded, loc),
			Detail:  "run `gotasks serve` or `gotasks instances recompute`",
		}
	}
}

func checkSearchIndex(ctx context.Context, cfg *config.Config, store *persistence.Store) CheckResult {
	if cfg == nil || store == nil {
		return CheckResult{Name: "Search Index", Status: StatusSkip, Message: "Database unavailable"}
	}
	var stale int
	if err := store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM fts_stale;`).Scan(&stale); err != nil {
		return CheckResult{Name: "Search Index", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	if stale > 0 {
		return CheckResult{Name: "Search Index", Status: StatusWarn, Message: fmt.Sprintf("%d tasks waiting for reindex", stale), Detail: "run `gotasks reindex`"}
	}
	return CheckResult{Name: "Search Index", Status: StatusPass, Message: "No stale entries"}
}
