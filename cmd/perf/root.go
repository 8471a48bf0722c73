package perf

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"text/tabwriter"
	"time"

	"github.com/ValentinKolb/dps/cmd/util"
	butil "github.com/ValentinKolb/dps/lib/backend/util"
	"github.com/ValentinKolb/dps/lib/store"
	"github.com/dustin/go-humanize"
	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// PerfCmd measures the throughput of the configured backend through a session
var PerfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Measure the throughput of store, ttl and lock operations",
	Long: `Runs a set of parallel benchmarks against a scratch store on the configured
backend and prints ns/op, ops/sec and how evenly the operations were spread
over the workers. The scratch store and ttl entries are removed afterwards.`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	f := PerfCmd.Flags()
	f.Int("threads", 4, util.WrapString("Parallel workers per CPU"))
	f.Int("keys", 1000, util.WrapString("Number of distinct keys the operations cycle through"))
	f.Int("value-size", 100, util.WrapString("Size of the value in KB for the large put benchmark"))
	f.Int("runs", 3, util.WrapString("How often every benchmark is repeated"))
	f.String("skip", "", util.WrapString("Comma-separated list of benchmarks to skip"))
	f.String("csv", "", util.WrapString("Write the results to this csv file"))
}

// Options configure a perf run
type Options struct {
	Threads   int
	Keys      int
	ValueSize int
	Runs      int
	Skip      []string
}

// Result is the outcome of one benchmark over all runs
type Result struct {
	Name     string
	NsPerOp  butil.Stats             // over the runs
	Workers  butil.DistributionStats // ops per worker of the last run
	Failures int64
	Skipped  bool
}

// OpsPerSec is the throughput derived from the mean ns/op
func (r Result) OpsPerSec() float64 {
	if r.NsPerOp.Mean == 0 {
		return 0
	}
	return float64(time.Second) / r.NsPerOp.Mean
}

type benchmark struct {
	name    string
	prepare bool // write every key before the run
	op      func(ctx context.Context, e *env, key []byte, i int) error
}

// env is the state shared by all benchmarks of a run
type env struct {
	s     *store.Session
	id    uint64
	keys  [][]byte
	large []byte
	ttl   [][]byte
}

var benchmarks = []benchmark{
	{name: "put", op: func(ctx context.Context, e *env, key []byte, _ int) error {
		return e.s.Put(ctx, e.id, key, []byte("test"))
	}},
	{name: "put-large", op: func(ctx context.Context, e *env, key []byte, _ int) error {
		return e.s.Put(ctx, e.id, key, e.large)
	}},
	{name: "get", prepare: true, op: func(ctx context.Context, e *env, key []byte, _ int) error {
		_, err := e.s.Get(ctx, e.id, key)
		return err
	}},
	{name: "has", prepare: true, op: func(ctx context.Context, e *env, key []byte, _ int) error {
		_, err := e.s.Has(ctx, e.id, key)
		return err
	}},
	{name: "has-not", op: func(ctx context.Context, e *env, key []byte, _ int) error {
		_, err := e.s.Has(ctx, e.id, append([]byte("missing-"), key...))
		return err
	}},
	{name: "delete", prepare: true, op: func(ctx context.Context, e *env, key []byte, _ int) error {
		return e.s.Remove(ctx, e.id, key)
	}},
	{name: "put-safe", op: func(ctx context.Context, e *env, key []byte, _ int) error {
		return e.s.PutSafe(ctx, e.id, key, []byte("test"))
	}},
	{name: "ttl-put", op: func(ctx context.Context, e *env, _ []byte, i int) error {
		return e.s.PutTTL(ctx, e.ttl[i%len(e.ttl)], []byte("test"), time.Minute)
	}},
	{name: "lock", op: func(ctx context.Context, e *env, key []byte, _ int) error {
		name := string(key)
		if err := e.s.AcquireGeneralLock(ctx, name, time.Second, time.Second); err != nil {
			return err
		}
		return e.s.ReleaseGeneralLock(ctx, name)
	}},
	{name: "mixed", prepare: true, op: func(ctx context.Context, e *env, key []byte, i int) error {
		var err error
		switch i % 4 {
		case 0:
			err = e.s.Put(ctx, e.id, key, []byte("test"))
		case 1, 2:
			_, err = e.s.Get(ctx, e.id, key)
		default:
			_, err = e.s.Has(ctx, e.id, key)
		}
		return err
	}},
}

// Names lists the benchmarks in the order they run
func Names() []string {
	names := make([]string, len(benchmarks))
	for i, bm := range benchmarks {
		names[i] = bm.name
	}
	return names
}

func run(_ *cobra.Command, _ []string) error {
	opts := Options{
		Threads:   viper.GetInt("threads"),
		Keys:      viper.GetInt("keys"),
		ValueSize: viper.GetInt("value-size"),
		Runs:      viper.GetInt("runs"),
		Skip:      splitSkip(viper.GetString("skip")),
	}

	return util.WithSession(func(ctx context.Context, s *store.Session) error {
		fmt.Printf("backend %s, %d workers, %d keys, %d runs\n\n",
			s.GetNoSqlDbProductName(), opts.Threads*runtime.GOMAXPROCS(0), opts.Keys, opts.Runs)

		results, err := Run(ctx, s, opts)
		printResults(results)
		if err != nil {
			return err
		}

		if path := viper.GetString("csv"); path != "" {
			if err := writeResultsToCSV(path, results); err != nil {
				return fmt.Errorf("write csv: %w", err)
			}
			fmt.Printf("\nresults written to %s\n", path)
		}
		return nil
	})
}

// Run executes every benchmark not named in opts.Skip on a scratch store
func Run(ctx context.Context, s *store.Session, opts Options) ([]Result, error) {
	if opts.Threads < 1 || opts.Keys < 1 || opts.Runs < 1 {
		return nil, fmt.Errorf("threads, keys and runs must be positive")
	}

	id, err := s.CreateStore(ctx, "__dps_perf_"+xid.New().String(), "string", "bytes")
	if err != nil {
		return nil, err
	}
	e := &env{
		s:     s,
		id:    id,
		keys:  make([][]byte, opts.Keys),
		ttl:   make([][]byte, opts.Keys),
		large: make([]byte, opts.ValueSize*1024),
	}
	for i := range e.keys {
		e.keys[i] = []byte(fmt.Sprintf("perf-key-%d", i))
		e.ttl[i] = []byte(fmt.Sprintf("__dps_perf_%d_ttl-%d", id, i))
	}
	defer cleanup(e)

	var results []Result
	for _, bm := range benchmarks {
		if slices.Contains(opts.Skip, bm.name) {
			results = append(results, Result{Name: bm.name, Skipped: true})
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r, err := runBenchmark(ctx, e, bm, opts)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func runBenchmark(ctx context.Context, e *env, bm benchmark, opts Options) (Result, error) {
	samples := make([]float64, 0, opts.Runs)
	var shares []float64
	var failures atomic.Int64

	for r := 0; r < opts.Runs; r++ {
		if bm.prepare {
			for _, key := range e.keys {
				if err := e.s.Put(ctx, e.id, key, []byte("test")); err != nil {
					return Result{}, fmt.Errorf("prepare %s: %w", bm.name, err)
				}
			}
		}

		res := testing.Benchmark(func(b *testing.B) {
			var mu sync.Mutex
			var next atomic.Int64
			counts := make([]float64, 0, opts.Threads*runtime.GOMAXPROCS(0))

			b.SetParallelism(opts.Threads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				n := 0
				for pb.Next() {
					i := int(next.Add(1))
					if err := bm.op(ctx, e, e.keys[i%len(e.keys)], i); err != nil {
						failures.Add(1)
					}
					n++
				}
				mu.Lock()
				counts = append(counts, float64(n))
				mu.Unlock()
			})
			shares = counts
		})
		samples = append(samples, float64(res.NsPerOp()))
	}

	return Result{
		Name:     bm.name,
		NsPerOp:  butil.NewStats(samples),
		Workers:  butil.NewDistributionStats(shares),
		Failures: failures.Load(),
	}, nil
}

// cleanup removes the scratch store and ttl entries with a fresh context, the
// run context may already be cancelled
func cleanup(e *env) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, key := range e.ttl {
		_ = e.s.RemoveTTL(ctx, key)
	}
	_ = e.s.RemoveStore(ctx, e.id)
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

func printResults(results []Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BENCHMARK\tNS/OP\tDEVIATION\tOPS/SEC\tWORKER BALANCE\tFAILED")
	for _, r := range results {
		if r.Skipped {
			fmt.Fprintf(w, "%s\tskipped\t\t\t\t\n", r.Name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%.2f\t%s\n",
			r.Name,
			humanize.Comma(int64(r.NsPerOp.Mean)),
			r.NsPerOp.RelativeDeviation()*100,
			humanize.Comma(int64(r.OpsPerSec())),
			r.Workers.DistributionQuality,
			humanize.Comma(r.Failures))
	}
	_ = w.Flush()
}

func writeResultsToCSV(path string, results []Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"benchmark", "ns_per_op_mean", "ns_per_op_stddev", "ns_per_op_min", "ns_per_op_max", "ops_per_sec", "worker_balance", "failed"}); err != nil {
		return err
	}
	for _, r := range results {
		if r.Skipped {
			continue
		}
		if err := w.Write([]string{
			r.Name,
			strconv.FormatFloat(r.NsPerOp.Mean, 'f', 0, 64),
			strconv.FormatFloat(r.NsPerOp.StdDeviation, 'f', 0, 64),
			strconv.FormatFloat(r.NsPerOp.Min, 'f', 0, 64),
			strconv.FormatFloat(r.NsPerOp.Max, 'f', 0, 64),
			strconv.FormatFloat(r.OpsPerSec(), 'f', 0, 64),
			strconv.FormatFloat(r.Workers.DistributionQuality, 'f', 3, 64),
			strconv.FormatInt(r.Failures, 10),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func splitSkip(s string) []string {
	var out []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
