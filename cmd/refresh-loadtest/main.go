// Command refresh-loadtest hammers a local fake backend with bursts of
// concurrent requests whose access token has just been revoked, and checks
// that every burst costs exactly one refresh exchange. Tokens live in redis
// (REDIS_ADDR or an in-process miniredis).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/internal/fakeapi"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	loadEmail    = "load@example.com"
	loadPassword = "load-test-password"
)

type options struct {
	rounds       int
	concurrency  int
	steadyOps    int
	refreshDelay time.Duration
	rotate       bool
	redisAddr    string
	prefix       string
}

func main() {
	var o options
	flag.IntVar(&o.rounds, "rounds", 50, "number of expiry bursts")
	flag.IntVar(&o.concurrency, "concurrency", 64, "concurrent requests per burst")
	flag.IntVar(&o.steadyOps, "steady-ops", 2000, "requests with a valid token before the bursts")
	flag.DurationVar(&o.refreshDelay, "refresh-delay", 5*time.Millisecond, "artificial latency of the refresh endpoint")
	flag.BoolVar(&o.rotate, "rotate", true, "rotate the refresh token on every refresh")
	flag.StringVar(&o.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flag.StringVar(&o.prefix, "prefix", "gac-load", "token key prefix")
	flag.Parse()

	if o.rounds <= 0 || o.concurrency <= 0 || o.steadyOps < 0 {
		fmt.Fprintln(os.Stderr, "rounds and concurrency must be > 0, steady-ops >= 0")
		os.Exit(2)
	}

	rep, err := run(context.Background(), o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("steady", rep.steady)
	printStats("burst", rep.burst)
	fmt.Printf("refreshes=%d expected=%d max-concurrent-refreshes=%d replays=%d\n",
		rep.refreshes, o.rounds, rep.maxConcurrent, rep.replays)

	if rep.refreshes != int64(o.rounds) || rep.maxConcurrent > 1 {
		fmt.Fprintln(os.Stderr, "refresh coalescing violated")
		os.Exit(1)
	}
}

type report struct {
	steady        phaseStats
	burst         phaseStats
	refreshes     int64
	maxConcurrent int64
	replays       uint64
}

func run(ctx context.Context, o options) (*report, error) {
	client, cleanup, err := openRedis(o.redisAddr)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	fake, err := fakeapi.New(fakeapi.Config{RotateRefresh: o.rotate, RefreshDelay: o.refreshDelay})
	if err != nil {
		return nil, err
	}
	if _, err := fake.AddUser(fakeapi.User{Username: "load", Email: loadEmail}, loadPassword); err != nil {
		return nil, err
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := goAuthClient.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Store.RedisPrefix = o.prefix
	cfg.Store.TTL = time.Hour
	cfg.Refresh.Skew = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Events.Enabled = false

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = o.concurrency

	session, err := goAuthClient.New().
		WithConfig(cfg).
		WithRedis(client).
		WithHTTPClient(&http.Client{Transport: transport}).
		Build()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := session.Init(ctx); err != nil {
		return nil, err
	}
	if _, err := session.Login(ctx, goAuthClient.Credentials{Email: loadEmail, Password: loadPassword}); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	api := session.Client()
	profile := func(ctx context.Context) error {
		var u goAuthClient.UserProfile
		return api.GetJSON(ctx, cfg.Endpoints.Profile, &u)
	}

	fmt.Printf("steady phase: %d requests\n", o.steadyOps)
	steady := runPhase(ctx, o.steadyOps, o.concurrency, profile)

	fmt.Printf("burst phase: %d rounds x %d requests\n", o.rounds, o.concurrency)
	var all []time.Duration
	var failures int64
	start := time.Now()
	for i := 0; i < o.rounds; i++ {
		fake.ExpireAccessTokens()
		s := runPhase(ctx, o.concurrency, o.concurrency, profile)
		all = append(all, s.samples...)
		failures += s.failures
	}
	burst := computeStats(time.Since(start), all, failures)

	snap := session.MetricsSnapshot()
	return &report{
		steady:        steady,
		burst:         burst,
		refreshes:     fake.Refreshes(),
		maxConcurrent: fake.MaxConcurrentRefreshes(),
		replays:       snap.Counters[goAuthClient.MetricReplay],
	}, nil
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPhase issues ops calls of fn from concurrency workers.
func runPhase(ctx context.Context, ops, concurrency int, fn func(context.Context) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				err := fn(ctx)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
	samples  []time.Duration
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return phaseStats{
		total:    total,
		ops:      len(sorted),
		failures: failures,
		p50:      percentile(sorted, 50),
		p95:      percentile(sorted, 95),
		p99:      percentile(sorted, 99),
		opsPerS:  float64(len(sorted)) / total.Seconds(),
		samples:  samples,
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
