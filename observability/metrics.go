package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchTotal counts completed fetch attempts by outcome.
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_fetch_total",
		Help: "Completed fetch attempts by outcome",
	}, []string{"outcome"}) // success, retry_exhausted, robots_denied, duplicate_url, duplicate_content

	// FetchRetries counts individual retry attempts.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kokkai_fetch_retries_total",
		Help: "Total fetch retry attempts",
	})

	// FetchCooldowns counts 429-triggered cooldown entries per host.
	FetchCooldowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_fetch_cooldowns_total",
		Help: "Rate-limit cooldowns entered, by host",
	}, []string{"host"})

	// DuplicateSkips counts dedup short-circuits by kind.
	DuplicateSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_duplicate_skips_total",
		Help: "Fetches skipped by the dedup cache",
	}, []string{"kind"}) // url, content

	// ParseErrors counts pages the chamber parsers could not handle.
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_parse_errors_total",
		Help: "HTML pages that failed to parse, by chamber",
	}, []string{"chamber"})

	// BillsParsed counts bill seeds extracted from index pages.
	BillsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_bills_parsed_total",
		Help: "Bill records parsed from index pages, by chamber",
	}, []string{"chamber"})

	// PDFExtractions counts PDF extraction attempts by strategy and result.
	PDFExtractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_pdf_extractions_total",
		Help: "PDF extraction attempts by strategy rung and result",
	}, []string{"strategy", "result"})

	// MergeConflicts counts field-level merge conflicts resolved.
	MergeConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kokkai_merge_conflicts_total",
		Help: "Field-level merge conflicts resolved",
	})

	// ValidationIssues counts issues emitted by the validator.
	ValidationIssues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_validation_issues_total",
		Help: "Validation issues emitted, by severity",
	}, []string{"severity"})

	// QueueDepth tracks the number of queued jobs per priority class.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kokkai_queue_depth",
		Help: "Queued jobs per priority class",
	}, []string{"priority"})

	// JobsTotal counts queue jobs reaching a terminal state.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_jobs_total",
		Help: "Queue jobs reaching a terminal state",
	}, []string{"priority", "status"})

	// JobDuration tracks job execution time.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kokkai_job_duration_seconds",
		Help:    "Queue job execution time",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})

	// CacheHits counts cache reads served from redis.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kokkai_cache_hits_total",
		Help: "Cache reads served from the backend",
	})

	// CacheMisses counts cache reads that fell through to the store.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kokkai_cache_misses_total",
		Help: "Cache reads that fell through to the record store",
	})

	// CacheStaleServed counts stale values returned while a refresh ran.
	CacheStaleServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kokkai_cache_stale_served_total",
		Help: "Stale cache values served while revalidating",
	})

	// CacheDegraded reports whether the cache backend is being bypassed.
	CacheDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kokkai_cache_degraded",
		Help: "1 when the cache backend is unavailable and reads bypass it",
	})

	// CacheLatency tracks redis roundtrip latency.
	CacheLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kokkai_cache_roundtrip_latency_seconds",
		Help:    "Cache backend operation latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})

	// AlertsTriggered counts alerts instantiated by the rule loop.
	AlertsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_alerts_triggered_total",
		Help: "Alerts triggered by the monitoring rule loop",
	}, []string{"severity"})

	// AlertsActive tracks currently unresolved alerts.
	AlertsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kokkai_alerts_active",
		Help: "Currently active (unresolved) alerts",
	})

	// NotificationFailures counts channel dispatch failures.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_notification_failures_total",
		Help: "Alert notification dispatch failures, by channel",
	}, []string{"channel"})

	// HealthCheckStatus reports the last result of each registered check.
	HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kokkai_health_check_status",
		Help: "Last health check result (1 healthy, 0 unhealthy)",
	}, []string{"check"})

	// CompletionTasks counts completion tasks by strategy and result.
	CompletionTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_completion_tasks_total",
		Help: "Completion tasks executed, by strategy and result",
	}, []string{"strategy", "result"})

	// MigrationPhaseDuration tracks wall time per migration phase.
	MigrationPhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kokkai_migration_phase_duration_seconds",
		Help:    "Migration orchestrator phase duration",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"phase"})

	// APIRateLimited counts edge requests rejected by storm protection.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokkai_api_rate_limited_total",
		Help: "API requests rejected by the edge rate limiter",
	}, []string{"endpoint"})

	// StoreLatency tracks record store operation latency.
	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kokkai_store_latency_seconds",
		Help:    "Record store operation latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"op"})
)
