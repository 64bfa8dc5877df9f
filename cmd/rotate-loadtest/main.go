// Command rotate-loadtest drives concurrent refresh chains through a Redis-backed
// engine and checks that every contested token has exactly one winner.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	mathrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goRotate "github.com/MrEthical07/goRotate"
)

type chain struct {
	mu      sync.Mutex
	refresh string
	access  string
}

func main() {
	var (
		families    = flag.Int("families", 2000, "number of families to open")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase")
		contested   = flag.Int("contested", 200, "tokens to redeem concurrently")
		racers      = flag.Int("racers", 8, "concurrent redemptions per contested token")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, ROTATE_REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *families <= 0 || *concurrency <= 0 || *ops <= 0 || *racers < 2 {
		fmt.Fprintln(os.Stderr, "families, concurrency and ops must be > 0, racers >= 2")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	engine, err := newEngine(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	chains := make([]chain, *families)
	fmt.Printf("opening %d families...\n", *families)
	startSeed := time.Now()
	for i := range chains {
		pair, err := engine.Login(ctx, goRotate.LoginRequest{
			UserID:   fmt.Sprintf("user-%d", i%100),
			Role:     "user",
			DeviceID: fmt.Sprintf("device-%d", i),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		chains[i] = chain{refresh: pair.RefreshToken, access: pair.AccessToken}
	}
	fmt.Printf("opened in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, func(r *mathrand.Rand) error {
		c := &chains[r.Intn(len(chains))]
		c.mu.Lock()
		token := c.access
		c.mu.Unlock()
		_, err := engine.ValidateAccess(ctx, token)
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, func(r *mathrand.Rand) error {
		c := &chains[r.Intn(len(chains))]
		c.mu.Lock()
		defer c.mu.Unlock()
		pair, err := engine.Refresh(ctx, c.refresh)
		if err != nil {
			return err
		}
		c.refresh, c.access = pair.RefreshToken, pair.AccessToken
		return nil
	})

	violations := runContested(ctx, engine, chains, *contested, *racers)

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	fmt.Printf("contested: tokens=%d racers=%d single-winner violations=%d\n", min(*contested, len(chains)), *racers, violations)
	snap := engine.MetricsSnapshot()
	fmt.Printf("metrics: reuse_detected=%d race_lost=%d families_revoked=%d\n",
		snap.Counters[goRotate.MetricRefreshReuseDetected],
		snap.Counters[goRotate.MetricRefreshRaceLost],
		snap.Counters[goRotate.MetricFamilyRevoked],
	)
	if violations > 0 {
		os.Exit(1)
	}
}

func connect(addr string) (*redis.Client, func(), error) {
	if addr == "" {
		addr = os.Getenv("ROTATE_REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func newEngine(client *redis.Client) (*goRotate.Engine, error) {
	signing := make([]byte, 32)
	fingerprint := make([]byte, 32)
	if _, err := rand.Read(signing); err != nil {
		return nil, err
	}
	if _, err := rand.Read(fingerprint); err != nil {
		return nil, err
	}

	cfg := goRotate.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = signing
	cfg.Rotation.FingerprintKey = fingerprint
	return goRotate.New().WithConfig(cfg).WithRedis(client).Build()
}

// runContested redeems each token from racers goroutines at once.
func runContested(ctx context.Context, engine *goRotate.Engine, chains []chain, tokens, racers int) int {
	if tokens > len(chains) {
		tokens = len(chains)
	}
	violations := 0
	for i := 0; i < tokens; i++ {
		token := chains[i].refresh
		var (
			wg      sync.WaitGroup
			winners int32
			start   = make(chan struct{})
		)
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := engine.Refresh(ctx, token)
				switch {
				case err == nil:
					atomic.AddInt32(&winners, 1)
				case errors.Is(err, goRotate.ErrReuseDetected), errors.Is(err, goRotate.ErrFamilyRevoked):
				default:
					fmt.Fprintf(os.Stderr, "unexpected refresh error: %v\n", err)
				}
			}()
		}
		close(start)
		wg.Wait()
		if winners != 1 {
			violations++
		}
	}
	return violations
}

func runPhase(ops, concurrency int, op func(r *mathrand.Rand) error) phaseStats {
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
			r := mathrand.New(mathrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
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
