package store

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/ValentinKolb/dps/lib/lockmgr"
)

// ClearStrategy selects how Clear empties a store
type ClearStrategy uint8

const (
	// ClearAuto drops and recreates on strongly consistent backends with bulk
	// drop and scan-deletes everywhere else
	ClearAuto ClearStrategy = iota
	// ClearScanDelete deletes every data key and leaves the metadata in place
	ClearScanDelete
	// ClearDropRecreate drops the namespace and writes the metadata again
	ClearDropRecreate
)

func (c ClearStrategy) String() string {
	switch c {
	case ClearAuto:
		return "auto"
	case ClearScanDelete:
		return "scan-delete"
	case ClearDropRecreate:
		return "drop-recreate"
	default:
		return "unknown"
	}
}

// ParseClearStrategy is the inverse of ClearStrategy.String
func ParseClearStrategy(s string) (ClearStrategy, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ClearAuto, nil
	case "scan-delete", "scan":
		return ClearScanDelete, nil
	case "drop-recreate", "drop":
		return ClearDropRecreate, nil
	default:
		return ClearAuto, fmt.Errorf("invalid clear strategy: %s. must be one of auto, scan-delete, drop-recreate", s)
	}
}

// Config tunes a Session. The zero value of every field selects its default.
type Config struct {
	LockLease       time.Duration   // Lease of store and general purpose locks
	LockWait        time.Duration   // Maximum time to wait for a lock
	Backoff         lockmgr.Backoff // Delay between lock attempts
	MaxAttempts     int             // Upper bound of lock attempts per acquisition
	ClearStrategy   ClearStrategy
	MetadataRetries int           // Verification rounds after drop-recreate on eventual backends
	MaxValueSize    int           // Values larger than this are rejected on read (0 = unlimited)
	Workers         int           // Size of the worker pool
	ReapInterval    time.Duration // Interval of the ttl reaper
	Clock           clock.Clock   // Time source (nil = clock.Real)
	Identity        lockmgr.Identity
}

// DefaultConfig returns the configuration used for zero valued fields
func DefaultConfig() Config {
	return Config{
		LockLease:       5 * time.Second,
		LockWait:        3 * time.Second,
		Backoff:         lockmgr.DefaultBackoff(),
		MaxAttempts:     10_000,
		ClearStrategy:   ClearAuto,
		MetadataRetries: 10,
		MaxValueSize:    0,
		Workers:         runtime.NumCPU(),
		ReapInterval:    time.Second,
		Clock:           clock.Real{},
	}
}

// withDefaults fills every unset field from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LockLease <= 0 {
		c.LockLease = d.LockLease
	}
	if c.LockWait <= 0 {
		c.LockWait = d.LockWait
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff = d.Backoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MetadataRetries <= 0 {
		c.MetadataRetries = d.MetadataRetries
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.Identity.Session == "" {
		c.Identity = lockmgr.NewIdentity()
	}
	return c
}

// String returns a formatted string representation of the configuration
func (c Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Locks")
	addField("Lease", c.LockLease.String())
	addField("Max Wait", c.LockWait.String())
	addField("Max Attempts", strconv.Itoa(c.MaxAttempts))
	addField("Backoff", fmt.Sprintf("%s .. %s (x%.1f, jitter %.2f)",
		c.Backoff.Initial, c.Backoff.Max, c.Backoff.Multiplier, c.Backoff.Jitter))

	addSection("Stores")
	addField("Clear Strategy", c.ClearStrategy.String())
	addField("Metadata Retries", strconv.Itoa(c.MetadataRetries))
	if c.MaxValueSize > 0 {
		addField("Max Value Size", strconv.Itoa(c.MaxValueSize))
	} else {
		addField("Max Value Size", "unlimited")
	}

	addSection("Runtime")
	addField("Workers", strconv.Itoa(c.Workers))
	addField("Reap Interval", c.ReapInterval.String())
	if c.Identity.Session != "" {
		addField("Identity", fmt.Sprintf("pid %d, session %s", c.Identity.PID, c.Identity.Session))
	}

	return sb.String()
}
