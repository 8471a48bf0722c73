package perf

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dps/lib/backend/engines/maple"
	"github.com/ValentinKolb/dps/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) *store.Session {
	t.Helper()
	s, err := store.NewSession(context.Background(), maple.NewMapleDB(nil), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func skipAllBut(keep ...string) []string {
	var skip []string
	for _, name := range Names() {
		found := false
		for _, k := range keep {
			found = found || k == name
		}
		if !found {
			skip = append(skip, name)
		}
	}
	return skip
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("perf runs take about a second per benchmark")
	}
	ctx := context.Background()
	s := newSession(t)

	results, err := Run(ctx, s, Options{Threads: 2, Keys: 16, ValueSize: 1, Runs: 1, Skip: skipAllBut("get", "lock")})
	require.NoError(t, err)
	require.Len(t, results, len(Names()))

	for _, r := range results {
		switch r.Name {
		case "get", "lock":
			assert.False(t, r.Skipped, r.Name)
			assert.Zero(t, r.Failures, r.Name)
			assert.Greater(t, r.NsPerOp.Mean, 0.0, r.Name)
			assert.Greater(t, r.OpsPerSec(), 0.0, r.Name)
			assert.Positive(t, r.Workers.Count, r.Name)
		default:
			assert.True(t, r.Skipped, r.Name)
		}
	}

	// the scratch store is gone
	stores, err := s.ListStores(ctx)
	require.NoError(t, err)
	assert.Empty(t, stores)
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	s := newSession(t)
	_, err := Run(context.Background(), s, Options{Threads: 0, Keys: 1, Runs: 1})
	assert.Error(t, err)
}

func TestWriteResultsToCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.csv")
	results := []Result{
		{Name: "put", Failures: 2},
		{Name: "get", Skipped: true},
	}
	results[0].NsPerOp.Mean = 2000

	require.NoError(t, writeResultsToCSV(path, results))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 2, "header plus the one benchmark that ran")
	assert.Equal(t, "benchmark", rows[0][0])
	assert.Equal(t, []string{"put", "2000", "0", "0", "0", "500000", "0.000", "2"}, rows[1])
}

func TestSplitSkip(t *testing.T) {
	assert.Nil(t, splitSkip(""))
	assert.Equal(t, []string{"put", "lock"}, splitSkip(" put, ,lock "))
}
