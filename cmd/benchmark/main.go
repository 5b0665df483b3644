// Benchmark tool for replaying labeled request logs against Kestrel.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/requests.csv -url http://localhost:8080
//
// The CSV needs a header with at least: timestamp, ip, user_agent, path,
// method, referer, is_bot. Each row is sent to POST /classify and the
// engine's verdict is compared against the is_bot label to produce a
// confusion matrix.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledRequest is one row of the replay dataset.
type LabeledRequest struct {
	Timestamp string
	IP        string
	UserAgent string
	Path      string
	Method    string
	Referer   string
	IsBot     bool
}

// ClassifyRequest mirrors the /classify request body.
type ClassifyRequest struct {
	Timestamp string `json:"timestamp"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Referer   string `json:"referer,omitempty"`
	Path      string `json:"path,omitempty"`
	Method    string `json:"method,omitempty"`
	Source    string `json:"source"`
}

// ClassifyResponse mirrors the /classify response body.
type ClassifyResponse struct {
	DecisionID    string  `json:"decision_id"`
	Action        string  `json:"action"`
	IsBotDecision *bool   `json:"is_bot_decision"`
	Score         float64 `json:"score"`
	Reason        string  `json:"reason"`
}

// Metrics tracks replay results.
type Metrics struct {
	TruePositives  int64 // Bots escalated
	FalsePositives int64 // Humans escalated
	TrueNegatives  int64 // Humans classified human
	FalseNegatives int64 // Bots classified human

	TotalProcessed    int64
	TotalBots         int64
	TotalHumans       int64
	TotalInconclusive int64
	TotalErrors       int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled request CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum requests to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each request result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/requests.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("kestrel replay benchmark")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("kestrel is healthy")

	fmt.Printf("\nReading labeled requests from %s...\n", *csvPath)
	requests, err := readLabeledCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}

	botCount := 0
	for _, r := range requests {
		if r.IsBot {
			botCount++
		}
	}
	fmt.Printf("Loaded %d requests (%d bot, %d human)\n",
		len(requests), botCount, len(requests)-botCount)

	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runReplay(requests, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLabeledCSV(path string, limit int) ([]LabeledRequest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"timestamp", "ip", "user_agent", "is_bot"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	var requests []LabeledRequest
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		requests = append(requests, LabeledRequest{
			Timestamp: field(record, "timestamp"),
			IP:        field(record, "ip"),
			UserAgent: field(record, "user_agent"),
			Path:      field(record, "path"),
			Method:    field(record, "method"),
			Referer:   field(record, "referer"),
			IsBot:     field(record, "is_bot") == "1" || strings.EqualFold(field(record, "is_bot"), "true"),
		})

		if limit > 0 && len(requests) >= limit {
			break
		}
	}

	return requests, nil
}

func runReplay(requests []LabeledRequest, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for req := range work {
				start := time.Now()
				result, err := classifyRequest(client, baseURL, req)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", req.IP, err)
					}
					continue
				}

				if req.IsBot {
					atomic.AddInt64(&metrics.TotalBots, 1)
				} else {
					atomic.AddInt64(&metrics.TotalHumans, 1)
				}

				// Inconclusive verdicts are tracked separately; they are
				// neither hits nor misses.
				if result.IsBotDecision == nil {
					atomic.AddInt64(&metrics.TotalInconclusive, 1)
					continue
				}

				predicted := *result.IsBotDecision
				actual := req.IsBot

				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					marker := "ok  "
					if predicted != actual {
						marker = "MISS"
					}
					ua := req.UserAgent
					if len(ua) > 24 {
						ua = ua[:24]
					}
					fmt.Printf("%s %-15s | %-24s | bot=%-5v | %s (%.3f)\n",
						marker, req.IP, ua, req.IsBot, result.Action, result.Score)
				}
			}
		}()
	}

	for _, req := range requests {
		work <- req
	}
	close(work)

	wg.Wait()

	return metrics
}

func classifyRequest(client *http.Client, baseURL string, r LabeledRequest) (*ClassifyResponse, error) {
	req := ClassifyRequest{
		Timestamp: r.Timestamp,
		IP:        r.IP,
		UserAgent: r.UserAgent,
		Referer:   r.Referer,
		Path:      r.Path,
		Method:    r.Method,
		Source:    "benchmark",
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ClassifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nREPLAY RESULTS")

	fmt.Printf("\nDataset\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Bots:       %d\n", m.TotalBots)
	fmt.Printf("   Total Humans:     %d\n", m.TotalHumans)
	fmt.Printf("   Inconclusive:     %d\n", m.TotalInconclusive)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nConfusion matrix (decided verdicts only)\n")
	fmt.Println("                      Predicted")
	fmt.Println("                    bot       human")
	fmt.Printf("   Actual  bot   %8d  %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("         human   %8d  %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Printf("\nDetection metrics\n")
	fmt.Printf("   Precision:  %.4f  (of escalations, how many were actual bots)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of bots, how many were escalated)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)

	fmt.Printf("\nPerformance\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", rps)
	}
	fmt.Println()
}
