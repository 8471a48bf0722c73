package maple

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	backendtesting "github.com/ValentinKolb/dps/lib/backend/testing"
	"github.com/ValentinKolb/dps/lib/clock"
)

func Test(t *testing.T) {
	clk := clock.NewManual(time.Now())
	backendtesting.RunBackendTests(t, "MapleDB", backendtesting.Harness{
		New: func(t testing.TB) backend.Backend {
			return NewMapleDB(&DBOptions{Clock: clk})
		},
		Advance: func(d time.Duration) { clk.Advance(d) },
	})
}

func Benchmark(b *testing.B) {
	backendtesting.RunBackendBenchmarks(b, "MapleDB", backendtesting.Harness{
		New: func(t testing.TB) backend.Backend { return NewMapleDB(nil) },
	})
}
