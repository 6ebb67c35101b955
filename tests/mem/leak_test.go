//go:build test

package mem

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bastiangx/omnisuggest/pkg/engines"
	"github.com/bastiangx/omnisuggest/pkg/history"
	"github.com/bastiangx/omnisuggest/pkg/suggest"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

var testQueries = []string{
	"weather", "world cup", "wikipedia", "hello", "program",
	"there", "computer", "international", "development",
}

// staticTransport answers every fetch with the same few suggestions.
type staticTransport struct{}

func (staticTransport) FetchSuggestions(ctx context.Context, req suggest.FetchRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`[%q, [%q, %q, %q]]`, req.Query, req.Query+" today", req.Query+" news", req.Query+"s")), nil
}

func newStore() *history.Store {
	store := history.NewStore(0)
	now := time.Now()
	for i, q := range testQueries {
		store.AddVisit(q, "", now.Add(-time.Duration(i)*time.Hour))
	}
	return store
}

func newProvider(store *history.Store) *suggest.Provider {
	return suggest.NewProvider(suggest.Options{
		Logger: log.New(io.Discard),
	}, store, staticTransport{}, engines.NewDefaultRegistry(), nil)
}

// typeQuery replays q keystroke by keystroke and waits for the last one to finish.
func typeQuery(t *testing.T, p *suggest.Provider, q string) {
	runes := []rune(q)
	var u suggest.Update
	for i := 1; i <= len(runes); i++ {
		u = p.Start(context.Background(), suggest.Input{Text: string(runes[:i])})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for !u.Done {
		next, err := p.Next(ctx)
		if err != nil {
			t.Errorf("waiting for '%s': %v", q, err)
			return
		}
		u = next
	}
}

func TestMemoryLeakBasic(t *testing.T) {
	iterations := []int{10, 50, 100, 250}

	for _, iterCount := range iterations {
		t.Run(fmt.Sprintf("iterations_%d", iterCount), func(t *testing.T) {
			runBasicMemoryTest(t, iterCount)
		})
	}
}

func TestMemoryLeakConcurrent(t *testing.T) {
	configs := []struct {
		workers             int
		iterationsPerWorker int
	}{
		{workers: 1, iterationsPerWorker: 100},
		{workers: 2, iterationsPerWorker: 50},
		{workers: 4, iterationsPerWorker: 25},
		{workers: 8, iterationsPerWorker: 12},
	}

	for _, config := range configs {
		t.Run(fmt.Sprintf("workers_%d_iter_%d", config.workers, config.iterationsPerWorker), func(t *testing.T) {
			runConcurrentMemoryTest(t, config.workers, config.iterationsPerWorker)
		})
	}
}

func TestMemoryStabilityLongRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long-running memory stability test in short mode")
	}

	runLongRunMemoryTest(t, 50, 20)
}

func runBasicMemoryTest(t *testing.T, iterations int) {
	var baseline runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&baseline)
	baselineGoroutines := runtime.NumGoroutine()

	p := newProvider(newStore())
	for i := 0; i < iterations; i++ {
		for _, q := range testQueries {
			typeQuery(t, p, q)
		}
		p.Stop()
	}
	p.Close()

	var final runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&final)
	finalGoroutines := runtime.NumGoroutine()

	memDelta := int64(final.Alloc) - int64(baseline.Alloc)
	goroutineDelta := finalGoroutines - baselineGoroutines
	totalOps := iterations * len(testQueries)
	memPerOp := float64(memDelta) / float64(totalOps)

	t.Logf("iterations=%d ops=%d mem_delta=%d bytes mem_per_op=%.2f goroutine_delta=%d",
		iterations, totalOps, memDelta, memPerOp, goroutineDelta)

	if memPerOp > 4096 {
		t.Errorf("excessive memory usage per operation: %.2f bytes", memPerOp)
	}

	if goroutineDelta > 2 {
		t.Errorf("goroutine leak detected: %d goroutines leaked", goroutineDelta)
	}
}

// runConcurrentMemoryTest gives each worker its own provider over a shared history store.
func runConcurrentMemoryTest(t *testing.T, workers, iterationsPerWorker int) {
	memFile, err := os.Create("concurrent_memory.prof")
	if err != nil {
		t.Fatalf("profile file creation failed: %v", err)
	}
	defer func() {
		memFile.Close()
		os.Remove("concurrent_memory.prof")
	}()

	store := newStore()

	var baseline runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&baseline)
	baselineGoroutines := runtime.NumGoroutine()

	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p := newProvider(store)
			defer p.Close()

			for iter := 0; iter < iterationsPerWorker; iter++ {
				for _, q := range testQueries {
					typeQuery(t, p, q)
				}
				store.AddVisit(fmt.Sprintf("worker %d query %d", worker, iter), "", time.Now())
			}
		}(worker)
	}
	wg.Wait()

	var final runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&final)
	finalGoroutines := runtime.NumGoroutine()

	totalOps := workers * iterationsPerWorker * len(testQueries)
	memDelta := int64(final.Alloc) - int64(baseline.Alloc)
	goroutineDelta := finalGoroutines - baselineGoroutines
	memPerOp := float64(memDelta) / float64(totalOps)

	t.Logf("workers=%d iter_per_worker=%d total_ops=%d mem_delta=%d bytes mem_per_op=%.2f goroutine_delta=%d",
		workers, iterationsPerWorker, totalOps, memDelta, memPerOp, goroutineDelta)

	if err := pprof.WriteHeapProfile(memFile); err != nil {
		t.Errorf("heap profile write failed: %v", err)
	}

	if memPerOp > 4096 {
		t.Errorf("excessive memory usage per operation: %.2f bytes", memPerOp)
	}

	if goroutineDelta > 3 {
		t.Errorf("goroutine leak detected: %d goroutines leaked", goroutineDelta)
	}
}

func runLongRunMemoryTest(t *testing.T, cycles, opsPerCycle int) {
	store := newStore()
	p := newProvider(store)

	var baseline runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&baseline)
	baselineGoroutines := runtime.NumGoroutine()

	totalOps := 0
	maxMemDelta := int64(0)

	for cycle := 0; cycle < cycles; cycle++ {
		for op := 0; op < opsPerCycle; op++ {
			q := testQueries[op%len(testQueries)]
			typeQuery(t, p, q)
			totalOps++
		}

		if cycle%10 == 0 {
			var m runtime.MemStats
			runtime.GC()
			runtime.ReadMemStats(&m)

			memDelta := int64(m.Alloc) - int64(baseline.Alloc)
			if memDelta > maxMemDelta {
				maxMemDelta = memDelta
			}
			t.Logf("cycle=%d ops=%d mem_delta=%d bytes goroutine_delta=%d history=%d",
				cycle, totalOps, memDelta, runtime.NumGoroutine()-baselineGoroutines, store.Len())
		}

		p.Stop()
		time.Sleep(5 * time.Millisecond)
	}
	p.Close()

	var final runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&final)
	finalGoroutineDelta := runtime.NumGoroutine() - baselineGoroutines

	t.Logf("final_summary: cycles=%d total_ops=%d mem_delta=%d bytes goroutine_delta=%d max_mem_delta=%d",
		cycles, totalOps, int64(final.Alloc)-int64(baseline.Alloc), finalGoroutineDelta, maxMemDelta)

	if finalGoroutineDelta > 2 {
		t.Errorf("goroutine leak detected: %d goroutines leaked", finalGoroutineDelta)
	}

	if maxMemDelta > 10*1024*1024 {
		t.Errorf("excessive peak memory usage: %d bytes", maxMemDelta)
	}
}
