package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/store/memory"
	redisstore "github.com/MrEthical07/goGuard/store/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const loadtestSecret = "loadtest-Hq7Vn2Kp9Xr4Mt6Wz1Bc8Df3Gj5Ls0"

func main() {
	var (
		users       = flag.Int("users", 10000, "number of subjects to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (authorize + csrf)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "goguard-lt", "redis key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goGuard.DefaultConfig()
	cfg.Secrets.SigningSecret = loadtestSecret
	// Every request passes the limiter so the phase measures the full path.
	cfg.RateLimit.API = goGuard.RateRule{Limit: 1 << 30, Window: time.Hour}
	cfg.Metrics.Enabled = true

	store := memory.New()
	fast := redisstore.New(client, *prefix)
	engine, err := goGuard.New().
		WithConfig(cfg).
		WithStore(store).
		WithCounterStore(fast).
		WithCSRFStore(fast).
		Build(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d subjects...\n", *users)
	startSeed := time.Now()
	headers := make([]string, *users)
	for i := 0; i < *users; i++ {
		id := fmt.Sprintf("u-%d", i)
		store.PutSubject(goGuard.Subject{
			UserID: id, TenantID: "t-0", Role: goGuard.RoleUser, Active: true, TenantActive: true,
		})
		token, _, err := engine.IssueToken(jwt.Claims{UserID: id, TenantID: "t-0"}, jwt.PurposeAPI)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token failed: %v\n", err)
			os.Exit(1)
		}
		headers[i] = "Bearer " + token
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authorizeStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		out := engine.Authorize(ctx, goGuard.Request{Authorization: headers[r.Intn(len(headers))]}, nil, goGuard.LimitAPI)
		if !out.Success {
			return out.Error
		}
		return nil
	})
	csrfStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		user := fmt.Sprintf("u-%d", r.Intn(*users))
		tok, err := engine.IssueCSRFToken(ctx, user, "")
		if err != nil {
			return err
		}
		return engine.ValidateCSRFToken(ctx, tok.Value, user, "")
	})

	fmt.Println("---- results ----")
	printStats("authorize", authorizeStats)
	printStats("csrf issue+validate", csrfStats)
	snap := engine.MetricsSnapshot()
	fmt.Printf("fail-open=%d csrf-rejected=%d\n",
		snap.Counters[goGuard.MetricRateLimitFailOpen],
		snap.Counters[goGuard.MetricCSRFRejected],
	)
}

func runPhase(ops, concurrency int, seed int64, op func(*rand.Rand) error) phaseStats {
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
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
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
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
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
