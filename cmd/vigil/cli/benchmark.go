package cli

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

func newBenchmarkCmd() *cobra.Command {
	var (
		path        string
		apiKey      string
		duration    time.Duration
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "benchmark <target>",
		Short: "Benchmark an HTTP endpoint's throughput",
		Long: `Run a load test against an HTTP endpoint to measure request throughput
and latency. Executes concurrent GET requests for the given duration.`,
		Example: `  vigil benchmark https://api.example.com --duration 30s --concurrency 50
  vigil benchmark https://api.example.com --path /auth/validate --api-key vgl_abc123`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(args[0], path, apiKey, duration, concurrency)
		},
	}

	cmd.Flags().StringVar(&path, "path", "/health", "Request path to benchmark")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Credential to send with each request")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "Number of concurrent workers")

	return cmd
}

// sanitizeURL redacts userinfo from a URL for display purposes.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User("****")
	}
	return u.String()
}

// printBanner prints the benchmark configuration header.
func printBanner(target string, duration time.Duration, concurrency int) {
	fmt.Print(banner)
	fmt.Println("Vigil Benchmark Suite")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Target: %s\n", sanitizeURL(target))
	fmt.Printf("Duration: %s | Concurrency: %d\n", duration, concurrency)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// memStats captures a snapshot of memory statistics for reporting.
type memStats struct {
	HeapAlloc uint64
	Sys       uint64
}

func captureMemStats() memStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memStats{HeapAlloc: m.HeapAlloc, Sys: m.Sys}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func runBenchmark(target, path, apiKey string, duration time.Duration, concurrency int) error {
	base, err := url.Parse(target)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("invalid target URL %q", target)
	}
	endpoint := strings.TrimRight(base.String(), "/") + "/" + strings.TrimLeft(path, "/")

	printBanner(endpoint, duration, concurrency)

	memBefore := captureMemStats()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: concurrency,
		},
	}

	// Warm up: a single request verifies the endpoint is reachable
	fmt.Print("Connecting... ")
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	fmt.Printf("ok (%d)\n", resp.StatusCode)
	fmt.Println()
	fmt.Println("Running benchmark...")
	fmt.Println()

	var (
		totalRequests atomic.Int64
		totalErrors   atomic.Int64
		non2xx        atomic.Int64
		latencies     = make([]time.Duration, 0, 100000)
		latencyMu     sync.Mutex
	)

	deadline := time.Now().Add(duration)
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				req, err := http.NewRequest(http.MethodGet, endpoint, nil)
				if err != nil {
					totalErrors.Add(1)
					continue
				}
				if apiKey != "" {
					req.Header.Set("X-API-Key", apiKey)
				}

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)

				if err != nil {
					totalErrors.Add(1)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				if resp.StatusCode < 200 || resp.StatusCode > 299 {
					non2xx.Add(1)
				}

				totalRequests.Add(1)
				latencyMu.Lock()
				latencies = append(latencies, elapsed)
				latencyMu.Unlock()
			}
		}()
	}

	wg.Wait()

	memAfter := captureMemStats()

	total := totalRequests.Load()
	errors := totalErrors.Load()
	rps := float64(total) / duration.Seconds()

	fmt.Println("Results")
	fmt.Println("-------")
	fmt.Printf("  Total requests: %d\n", total)
	fmt.Printf("  Errors:         %d\n", errors)
	fmt.Printf("  Non-2xx:        %d\n", non2xx.Load())
	fmt.Printf("  RPS:            %.1f\n", rps)

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})
		fmt.Printf("  Latency p50:    %s\n", latencies[len(latencies)*50/100])
		fmt.Printf("  Latency p95:    %s\n", latencies[len(latencies)*95/100])
		fmt.Printf("  Latency p99:    %s\n", latencies[len(latencies)*99/100])
		fmt.Printf("  Latency max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("Memory")
	fmt.Println("------")
	fmt.Printf("  Heap before:    %s\n", formatBytes(memBefore.HeapAlloc))
	fmt.Printf("  Heap after:     %s\n", formatBytes(memAfter.HeapAlloc))
	fmt.Printf("  Sys before:     %s\n", formatBytes(memBefore.Sys))
	fmt.Printf("  Sys after:      %s\n", formatBytes(memAfter.Sys))

	return nil
}
