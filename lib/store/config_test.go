package store

import (
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/clock"
)

func TestParseClearStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    ClearStrategy
		wantErr bool
	}{
		{"", ClearAuto, false},
		{"auto", ClearAuto, false},
		{"scan-delete", ClearScanDelete, false},
		{"SCAN", ClearScanDelete, false},
		{"drop-recreate", ClearDropRecreate, false},
		{"drop", ClearDropRecreate, false},
		{"truncate", ClearAuto, true},
	}
	for _, tt := range tests {
		got, err := ParseClearStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClearStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClearStrategy(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if !tt.wantErr && tt.in != "" && tt.in != "SCAN" && tt.in != "drop" && got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	clk := clock.NewManual(time.Now())
	cfg := Config{LockWait: time.Second, Clock: clk}.withDefaults()

	if cfg.LockWait != time.Second {
		t.Errorf("LockWait = %v, set values must be kept", cfg.LockWait)
	}
	if cfg.Clock != clk {
		t.Error("Clock must be kept")
	}
	if cfg.LockLease != 5*time.Second || cfg.MaxAttempts != 10_000 || cfg.ReapInterval != time.Second {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Identity.Session == "" || cfg.Identity.PID == 0 {
		t.Errorf("identity not set: %+v", cfg.Identity)
	}
}

func TestConfigString(t *testing.T) {
	out := DefaultConfig().String()
	for _, want := range []string{"LOCKS", "STORES", "RUNTIME", "Clear Strategy", "auto", "unlimited"} {
		if !strings.Contains(out, want) {
			t.Errorf("String() misses %q:\n%s", want, out)
		}
	}
}
