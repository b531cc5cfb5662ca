// Command loadtest drives the searcher's HTTP API. It optionally seeds a
// synthetic corpus through the document endpoints, then replays a fixed set
// of queries from concurrent workers and reports latency percentiles,
// status codes and the query cache hit rate.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var vocabulary = []string{
	"inverted", "index", "posting", "sorted", "union", "weighted",
	"membership", "scratch", "ranking", "frequency", "corpus", "document",
	"query", "redis", "pipeline", "cache", "tokenizer", "stemming",
	"retrieval", "relevance", "pagination", "cardinality", "expire", "score",
}

type options struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	seed        int
	limit       int
	queries     []string
}

type stats struct {
	total       atomic.Int64
	success     atomic.Int64
	failed      atomic.Int64
	cacheHits   atomic.Int64
	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func newStats() *stats {
	return &stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

func (s *stats) record(elapsed time.Duration, status int, cacheHit bool, err error) {
	s.total.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.success.Add(1)
	} else {
		s.failed.Add(1)
	}
	if cacheHit {
		s.cacheHits.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, elapsed)
	s.statusCodes[status]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	seed := flag.Int("seed", 0, "number of synthetic documents to index before the run")
	limit := flag.Int("limit", 10, "page size requested per query")
	flag.Parse()

	opts := options{
		baseURL:     strings.TrimRight(*baseURL, "/"),
		concurrency: *concurrency,
		duration:    *duration,
		seed:        *seed,
		limit:       *limit,
		queries: []string{
			"inverted index",
			"sorted union",
			"weighted ranking",
			"document frequency",
			"scratch membership",
			"redis pipeline",
			"cache relevance",
			"query pagination",
			"corpus cardinality",
			"tokenizer stemming",
			"retrieval score",
			"posting expire",
		},
	}

	fmt.Println("=== kvsearch load test ===")
	fmt.Printf("Target:      %s\n", opts.baseURL)
	fmt.Printf("Concurrency: %d\n", opts.concurrency)
	fmt.Printf("Duration:    %s\n", opts.duration)
	fmt.Printf("Queries:     %d unique\n", len(opts.queries))
	fmt.Println()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	if opts.seed > 0 {
		start := time.Now()
		if err := seedCorpus(context.Background(), client, opts); err != nil {
			fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded %d documents in %s\n\n", opts.seed, time.Since(start).Round(time.Millisecond))
	}

	s := run(client, opts)
	report(s, opts.duration)
}

// seedCorpus indexes synthetic documents drawn from vocabulary so every
// query term has a spread of document frequencies.
func seedCorpus(ctx context.Context, client *http.Client, opts options) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i := 0; i < opts.seed; i++ {
		docID := fmt.Sprintf("loadtest-%d", i)
		content := syntheticDocument(rand.New(rand.NewSource(int64(i))))
		g.Go(func() error {
			body := fmt.Sprintf(`{"content":%q}`, content)
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, opts.baseURL+"/api/v1/documents/"+docID, strings.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("indexing %s: %w", docID, err)
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= 300 {
				return fmt.Errorf("indexing %s: status %d", docID, resp.StatusCode)
			}
			return nil
		})
	}
	return g.Wait()
}

func syntheticDocument(rng *rand.Rand) string {
	words := make([]string, 20+rng.Intn(60))
	for i := range words {
		// Squaring skews the draw so early vocabulary words are common.
		f := rng.Float64()
		words[i] = vocabulary[int(f*f*float64(len(vocabulary)))]
	}
	return strings.Join(words, " ")
}

func run(client *http.Client, opts options) *stats {
	s := newStats()
	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(next int) {
			defer wg.Done()
			for ctx.Err() == nil {
				query := opts.queries[next%len(opts.queries)]
				next++
				searchURL := fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d", opts.baseURL, url.QueryEscape(query), opts.limit)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
				if err != nil {
					s.record(0, 0, false, err)
					continue
				}

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						s.record(elapsed, 0, false, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				s.record(elapsed, resp.StatusCode, resp.Header.Get("X-Cache") == "HIT", nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
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
	return s
}

func report(s *stats, duration time.Duration) {
	total := s.total.Load()
	success := s.success.Load()
	failed := s.failed.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", failed)
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}
	if success > 0 {
		fmt.Printf("Cache Hit Rate:  %.2f%%\n", float64(s.cacheHits.Load())/float64(success)*100)
	}

	s.mu.Lock()
	latencies := append([]time.Duration(nil), s.latencies...)
	codes := make([]int, 0, len(s.statusCodes))
	for code := range s.statusCodes {
		codes = append(codes, code)
	}
	counts := make(map[int]int64, len(s.statusCodes))
	for code, n := range s.statusCodes {
		counts[code] = n
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		var sq float64
		for _, l := range latencies {
			d := float64(l - avg)
			sq += d * d
		}

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
		fmt.Printf("StdDev: %s\n", time.Duration(math.Sqrt(sq/float64(len(latencies)))))
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, counts[code])
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
	return sorted[max(0, min(idx, len(sorted)-1))]
}
