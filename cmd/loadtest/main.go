// Loadtest replays the shortener's expected traffic mix against a running
// instance: virtual users create links, follow them and read their stats,
// and the tool reports latency percentiles per operation.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -users 50 -requests 5000
//	go run ./cmd/loadtest -users 200 -min-wait 10ms -max-wait 100ms -out summary.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:8080", "Base URL of the shortener")
		users       = flag.Int("users", 10, "Number of concurrent virtual users")
		requests    = flag.Int("requests", 1000, "Total number of requests to send")
		minWait     = flag.Duration("min-wait", 100*time.Millisecond, "Minimum pause between a user's requests")
		maxWait     = flag.Duration("max-wait", 500*time.Millisecond, "Maximum pause between a user's requests")
		redirectSLO = flag.Duration("redirect-slo", 50*time.Millisecond, "Redirects slower than this count as failures")
		timeout     = flag.Duration("timeout", 10*time.Second, "Per-request timeout")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w := newWorkload(workloadConfig{
		BaseURL:     *baseURL,
		Users:       *users,
		Requests:    *requests,
		MinWait:     *minWait,
		MaxWait:     *maxWait,
		RedirectSLO: *redirectSLO,
		Timeout:     *timeout,
	})

	start := time.Now()
	summaries := w.run(ctx)
	elapsed := time.Since(start)

	failures := printSummary(*baseURL, *users, elapsed, summaries)

	if *outJSON != "" {
		if err := writeJSON(*outJSON, elapsed, summaries); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write json summary: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failures > 0 {
		os.Exit(2)
	}
}

func printSummary(target string, users int, elapsed time.Duration, summaries map[string]Summary) int {
	total, failures := 0, 0
	for _, s := range summaries {
		total += s.Count
		failures += s.Failure
	}

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s  Users: %d\n", target, users)
	fmt.Printf("Total sent: %d  Failures: %d\n", total, failures)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", elapsed, float64(total)/elapsed.Seconds())

	ops := make([]string, 0, len(summaries))
	for op := range summaries {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	for _, op := range ops {
		s := summaries[op]
		fmt.Printf("\n%s -> total=%d success=%d failure=%d slow=%d\n", op, s.Count, s.Success, s.Failure, s.Slow)
		fmt.Printf("  latencies: min=%.2fms avg=%.2fms max=%.2fms p50=%.2fms p90=%.2fms p95=%.2fms p99=%.2fms\n",
			s.MinMS, s.AvgMS, s.MaxMS, s.P50MS, s.P90MS, s.P95MS, s.P99MS)

		codes := make([]int, 0, len(s.Statuses))
		for code := range s.Statuses {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Printf("  %d -> %d\n", code, s.Statuses[code])
		}
	}

	return failures
}

func writeJSON(path string, elapsed time.Duration, summaries map[string]Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"duration_ms": elapsed.Milliseconds(),
		"operations":  summaries,
	})
}
