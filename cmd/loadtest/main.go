// Command loadtest drives a running searcher with a mix of GET /books and
// DSL searches and reports throughput, latency percentiles and status codes.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 20 -duration 30s -rps 500
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// workload is one request template. Exactly one of params or body is set.
type workload struct {
	name   string
	params url.Values
	body   string
}

var workloads = []workload{
	{name: "multi_match", params: url.Values{"query": {"ruby"}}},
	{name: "multi_match_fuzzy", params: url.Values{"query": {"javascrip"}}},
	{name: "multi_match_title", params: url.Values{"query": {"html css"}, "query_field": {"title"}}},
	{name: "term_author", params: url.Values{"query_type": {"term"}, "query_field": {"author.last_name"}, "query": {"Doe"}}},
	{name: "phrase", params: url.Values{"query_type": {"match_phrase"}, "query_field": {"title"}, "query": {"the good parts"}}},
	{name: "list_all", params: url.Values{}},
	{name: "zero_result", params: url.Values{"query": {"haskell"}}},
	{name: "dsl_bool", body: `{"query": {"bool": {
		"must": [{"match": {"title": "ruby"}}],
		"filter": [{"range": {"pages": {"gte": 150}}}],
		"must_not": [{"term": {"author.last_name": "Doe"}}]}}, "size": 10}`},
	{name: "dsl_terms", body: `{"query": {"terms": {"isbn": ["1234", "4234", "99432"]}}}`},
	{name: "dsl_phrase_slop", body: `{"query": {"match_phrase": {"title": {"query": "ruby rails", "slop": 1}}}}`},
}

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	RPS         float64
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	zeroResults   atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
	perWorkload map[string]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
		perWorkload: make(map[string]int64),
	}
}

func (s *Stats) Record(name string, d time.Duration, status int, total int, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.successCount.Add(1)
		if total == 0 {
			s.zeroResults.Add(1)
		}
	} else {
		s.errorCount.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.statusCodes[status]++
	s.perWorkload[name]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rps := flag.Float64("rps", 0, "overall request rate limit, 0 for unlimited")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		RPS:         *rps,
	}

	fmt.Println("=== Bookshelf Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	if cfg.RPS > 0 {
		fmt.Printf("Rate:        %.0f req/s\n", cfg.RPS)
	}
	fmt.Printf("Workloads:   %d\n", len(workloads))
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(next int) {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				wl := workloads[next%len(workloads)]
				next++

				start := time.Now()
				status, total, err := send(ctx, client, cfg.BaseURL, wl)
				if ctx.Err() != nil {
					return
				}
				stats.Record(wl.name, time.Since(start), status, total, err)
			}
		}(w)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

// send runs one workload and returns the status and the reported total.
func send(ctx context.Context, client *http.Client, base string, wl workload) (int, int, error) {
	var (
		req *http.Request
		err error
	)
	if wl.body != "" {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			base+"/api/v1/indexes/books/_search", bytes.NewBufferString(wl.body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, base+"/books?"+wl.params.Encode(), nil)
	}
	if err != nil {
		return 0, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	var body struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return resp.StatusCode, 0, nil
	}
	return resp.StatusCode, body.Total, nil
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	failed := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", failed)
	fmt.Printf("Zero results:    %d\n", stats.zeroResults.Load())
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()
	latencies := append([]time.Duration(nil), stats.latencies...)
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code])
	}

	fmt.Println()
	fmt.Println("=== Workloads ===")
	for _, wl := range workloads {
		fmt.Printf("  %-18s %d\n", wl.name, stats.perWorkload[wl.name])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
