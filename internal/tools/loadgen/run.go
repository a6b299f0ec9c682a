package loadgen

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config drives one synthetic traffic run against a live service. Profiles
// shape the request mix: auth hammers the login endpoint, sales polls public
// sale pages, reserve fires unauthenticated reservation attempts into the
// strict limiter, and mixed interleaves all of them.
type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
	P50           time.Duration
	P95           time.Duration
}

type request struct {
	method string
	path   string
	body   string
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaseURL == "" {
		return Result{}, fmt.Errorf("loadgen: base URL is required")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	profile := normalizeProfile(cfg.Profile)

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	jobs := make(chan request, cfg.Concurrency)

	var (
		mu        sync.Mutex
		total     int
		failures  int
		classes   = map[string]int{}
		latencies []time.Duration
	)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				start := time.Now()
				status, err := fire(ctx, client, cfg.BaseURL, job)
				elapsed := time.Since(start)

				mu.Lock()
				total++
				if err != nil {
					failures++
				} else {
					classes[classifyStatusClass(status)]++
					latencies = append(latencies, elapsed)
				}
				mu.Unlock()
			}
		}()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()

feed:
	for {
		select {
		case <-ctx.Done():
			break feed
		case <-ticker.C:
			select {
			case jobs <- nextRequest(rng, profile):
			default:
				// workers saturated, shed the tick instead of queueing
			}
		}
	}
	close(jobs)
	wg.Wait()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	res := Result{
		TotalRequests: total,
		Failures:      failures,
		StatusClasses: classes,
	}
	if len(latencies) > 0 {
		res.P50 = latencies[len(latencies)/2]
		res.P95 = latencies[len(latencies)*95/100]
	}
	return res, nil
}

func fire(ctx context.Context, client *http.Client, baseURL string, job request) (int, error) {
	var body io.Reader
	if job.body != "" {
		body = strings.NewReader(job.body)
	}
	req, err := http.NewRequestWithContext(ctx, job.method, strings.TrimRight(baseURL, "/")+job.path, body)
	if err != nil {
		return 0, err
	}
	if job.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func nextRequest(rng *rand.Rand, profile string) request {
	switch profile {
	case "auth":
		return loginRequest(rng)
	case "sales":
		return saleRequest(rng)
	case "reserve":
		return reserveRequest(rng)
	default: // mixed
		switch rng.Intn(4) {
		case 0:
			return loginRequest(rng)
		case 1:
			return reserveRequest(rng)
		case 2:
			return request{method: http.MethodGet, path: "/health/live"}
		default:
			return saleRequest(rng)
		}
	}
}

func loginRequest(rng *rand.Rand) request {
	return request{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   fmt.Sprintf(`{"email":"load-%d@example.com","password":"not-a-password"}`, rng.Intn(1000)),
	}
}

func saleRequest(rng *rand.Rand) request {
	return request{method: http.MethodGet, path: fmt.Sprintf("/api/v1/sales/%d", 1+rng.Intn(5))}
}

func reserveRequest(rng *rand.Rand) request {
	return request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/api/v1/sales/%d/reserve", 1+rng.Intn(5)),
		body:   `{"item_id":"sku-1"}`,
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	profile = strings.ToLower(strings.TrimSpace(profile))
	switch profile {
	case "auth", "sales", "reserve", "mixed":
		return profile
	case "":
		return "mixed"
	default:
		return "mixed"
	}
}
