package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/openkokkai/billtracker/observability"
)

var (
	// ErrDisallowedByRobots is a permanent failure: the host's robots rules
	// forbid the fetch.
	ErrDisallowedByRobots = errors.New("disallowed by robots policy")
	// ErrRetryExhausted wraps the last transport or server error after all
	// retries are spent.
	ErrRetryExhausted = errors.New("retries exhausted")
)

// SkipReason explains a success-with-skip result.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipDuplicateURL     SkipReason = "duplicate_url"
	SkipDuplicateContent SkipReason = "duplicate_content"
)

// Config holds the fetcher's tunables.
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	CooldownSeconds   int
	RespectRetryAfter bool
	MaxRetries        int
	MaxConcurrent     int64
	MaxAge            time.Duration
	RequestTimeout    time.Duration
	UserAgent         string
}

func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 0.4,
		BurstSize:         3,
		CooldownSeconds:   15,
		RespectRetryAfter: true,
		MaxRetries:        3,
		MaxConcurrent:     3,
		MaxAge:            24 * time.Hour,
		RequestTimeout:    30 * time.Second,
		UserAgent:         "billtracker/1.0 (+https://github.com/openkokkai/billtracker)",
	}
}

// Options adjusts a single fetch.
type Options struct {
	ForceRefresh bool
	Job          *Job
}

// Result is the outcome of one fetch. Skipped fetches carry no body.
type Result struct {
	Body    []byte
	Status  int
	Skipped SkipReason
}

// Fetcher performs rate-limited, robots-gated, deduplicated HTTP GETs with
// retry. It is the sole serialization point for outbound traffic: callers
// may launch many fetches concurrently.
type Fetcher struct {
	cfg    Config
	client *http.Client
	robots *RobotsGate
	dedup  *ContentCache
	sem    *semaphore.Weighted

	mu             sync.Mutex
	limiters       map[string]*rate.Limiter
	cooldownUntil  map[string]time.Time
	lastRetryAfter time.Duration

	// Injected for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, dedup *ContentCache) *Fetcher {
	client := &http.Client{Timeout: cfg.RequestTimeout}
	return &Fetcher{
		cfg:           cfg,
		client:        client,
		robots:        NewRobotsGate(client, cfg.UserAgent),
		dedup:         dedup,
		sem:           semaphore.NewWeighted(cfg.MaxConcurrent),
		limiters:      make(map[string]*rate.Limiter),
		cooldownUntil: make(map[string]time.Time),
		now:           time.Now,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// limiter returns the shared token bucket for a host.
func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.cfg.RequestsPerSecond), f.cfg.BurstSize)
		f.limiters[host] = l
	}
	return l
}

func (f *Fetcher) cooldownRemaining(host string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.cooldownUntil[host]
	if !ok {
		return 0
	}
	rem := until.Sub(f.now())
	if rem < 0 {
		return 0
	}
	return rem
}

func (f *Fetcher) enterCooldown(host string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	until := f.now().Add(d)
	if until.After(f.cooldownUntil[host]) {
		f.cooldownUntil[host] = until
	}
	observability.FetchCooldowns.WithLabelValues(host).Inc()
}

// Fetch performs one GET with the full resilience stack. Duplicate hits
// return a Result with a non-empty Skipped reason and no error.
func (f *Fetcher) Fetch(ctx context.Context, target string, opts Options) (*Result, error) {
	if opts.Job != nil {
		opts.Job.Start()
	}
	res, err := f.fetch(ctx, target, opts)
	if opts.Job != nil {
		opts.Job.RecordResult(err)
	}
	return res, err
}

func (f *Fetcher) fetch(ctx context.Context, target string, opts Options) (*Result, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", target, err)
	}

	allowed, err := f.robots.Allowed(ctx, target)
	if err != nil {
		return nil, err
	}
	if !allowed {
		observability.FetchTotal.WithLabelValues("robots_denied").Inc()
		return nil, fmt.Errorf("%s: %w", target, ErrDisallowedByRobots)
	}

	if !opts.ForceRefresh && f.dedup != nil && f.dedup.SeenURL(target) {
		observability.FetchTotal.WithLabelValues("duplicate_url").Inc()
		observability.DuplicateSkips.WithLabelValues("url").Inc()
		return &Result{Skipped: SkipDuplicateURL}, nil
	}
	if opts.ForceRefresh && f.dedup != nil {
		f.dedup.Forget(target)
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			observability.FetchRetries.Inc()
		}

		if rem := f.cooldownRemaining(u.Host); rem > 0 {
			if err := f.sleep(ctx, rem); err != nil {
				return nil, err
			}
		}
		if err := f.limiter(u.Host).Wait(ctx); err != nil {
			return nil, err
		}

		body, status, err := f.doGet(ctx, target)
		if err != nil {
			// Transport error: retry with backoff.
			lastErr = err
			if err := f.sleep(ctx, RetryDelay(attempt, 0)); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case status == http.StatusTooManyRequests:
			cooldown := time.Duration(f.cfg.CooldownSeconds) * time.Second
			if ra := f.retryAfterHint(); f.cfg.RespectRetryAfter && ra > cooldown {
				cooldown = ra
			}
			f.enterCooldown(u.Host, cooldown)
			lastErr = fmt.Errorf("http 429 from %s", u.Host)
			continue

		case status >= 500:
			lastErr = fmt.Errorf("http %d from %s", status, u.Host)
			if err := f.sleep(ctx, RetryDelay(attempt, 0)); err != nil {
				return nil, err
			}
			continue

		case status >= 400:
			observability.FetchTotal.WithLabelValues("client_error").Inc()
			return nil, fmt.Errorf("http %d fetching %s", status, target)
		}

		if !opts.ForceRefresh && f.dedup != nil && f.dedup.SeenBody(body) {
			observability.FetchTotal.WithLabelValues("duplicate_content").Inc()
			observability.DuplicateSkips.WithLabelValues("content").Inc()
			if err := f.dedup.Record(target, body); err != nil {
				log.Printf("fetcher: failed to persist dedup cache: %v", err)
			}
			return &Result{Status: status, Skipped: SkipDuplicateContent}, nil
		}
		if f.dedup != nil {
			if err := f.dedup.Record(target, body); err != nil {
				log.Printf("fetcher: failed to persist dedup cache: %v", err)
			}
		}

		observability.FetchTotal.WithLabelValues("success").Inc()
		return &Result{Body: body, Status: status}, nil
	}

	observability.FetchTotal.WithLabelValues("retry_exhausted").Inc()
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, f.cfg.MaxRetries+1, lastErr)
}

// doGet runs a single GET. The caller owns retry decisions; the Retry-After
// header rides back through the response recorder below.
func (f *Fetcher) doGet(ctx context.Context, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	f.mu.Lock()
	f.lastRetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), f.now())
	f.mu.Unlock()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// retryAfterHint returns the Retry-After value captured by the most recent
// response for this fetcher. Guarded by f.mu.
func (f *Fetcher) retryAfterHint() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRetryAfter
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
