package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/openkokkai/billtracker/cache"
	"github.com/openkokkai/billtracker/monitor"
	"github.com/openkokkai/billtracker/observability"
	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/taskqueue"
)

// API owns the HTTP handlers and their collaborators.
type API struct {
	cfg      Config
	store    store.Store
	members  *cache.MemberCache
	queue    *taskqueue.Queue
	engine   *monitor.Engine
	health   *monitor.HealthChecker
	agg      *monitor.Aggregator
	stance   StanceProvider
	pipeline *Pipeline
	wsHub    *MetricsHub

	// Storm protection for the hot listing path and the admin collect
	// trigger.
	listLimiter    *rate.Limiter
	collectLimiter *rate.Limiter
}

func NewAPI(cfg Config, st store.Store, members *cache.MemberCache, queue *taskqueue.Queue,
	engine *monitor.Engine, health *monitor.HealthChecker, agg *monitor.Aggregator,
	stance StanceProvider, pipeline *Pipeline) *API {
	api := &API{
		cfg:            cfg,
		store:          st,
		members:        members,
		queue:          queue,
		engine:         engine,
		health:         health,
		agg:            agg,
		stance:         stance,
		pipeline:       pipeline,
		listLimiter:    rate.NewLimiter(rate.Limit(50), 100),
		collectLimiter: rate.NewLimiter(rate.Limit(1), 2),
	}
	api.wsHub = NewMetricsHub(api)
	return api
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeSuccess(w http.ResponseWriter, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	writeJSON(w, http.StatusOK, payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   kind,
		"message": message,
	})
}

// writeRateLimitError answers 429 with a jittered Retry-After so stalled
// clients do not re-arrive in lockstep.
func (a *API) writeRateLimitError(w http.ResponseWriter, endpoint string) {
	observability.APIRateLimited.WithLabelValues(endpoint).Inc()
	retryAfter := 1 + rand.Intn(3)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, retry later")
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use "+method)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_body", err.Error())
		return false
	}
	return true
}

// routes registers every endpoint on a fresh mux.
func (a *API) routes(metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", a.handleHealth)
	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/metrics/json", a.handleMetricsJSON)
	mux.HandleFunc("/search", a.handleSearch)

	mux.HandleFunc("/api/members", a.handleMembers)
	mux.HandleFunc("/api/members/", a.handleMemberSubtree)

	mux.HandleFunc("/api/policy/issues", a.handlePolicyIssues)
	mux.HandleFunc("/api/policy/member/", a.handlePolicyMemberSubtree)
	mux.HandleFunc("/api/policy/compare", a.handlePolicyCompare)
	mux.HandleFunc("/api/policy/trends/", a.handlePolicyTrends)

	mux.HandleFunc("/api/dashboard", a.handleDashboard)
	mux.HandleFunc("/api/dashboard/stream", a.handleDashboardStream)

	mux.HandleFunc("/admin/members/collect", a.handleMembersCollect)
	mux.HandleFunc("/admin/repair", a.handleRepair)
	mux.HandleFunc("/admin/migration/run", a.handleMigrationRun)
	mux.HandleFunc("/admin/votes/extract", a.handleVotesExtract)
	mux.HandleFunc("/admin/cache/warmup", a.handleCacheWarmup)
	mux.HandleFunc("/admin/cache/stats", a.handleCacheStats)
	mux.HandleFunc("/admin/batch/member-statistics", a.handleBatchMemberStatistics)
	mux.HandleFunc("/admin/batch/policy-stance", a.handleBatchPolicyStance)
	mux.HandleFunc("/admin/batch/job/", a.handleBatchJob)
	mux.HandleFunc("/admin/batch/queues", a.handleBatchQueues)
	mux.HandleFunc("/admin/batch/failed-jobs", a.handleFailedJobs)
	mux.HandleFunc("/admin/alerts", a.handleAlerts)

	return mux
}

// handleHealth aggregates the registered subsystem checks.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	status := "healthy"
	if !a.health.Healthy() {
		status = "degraded"
	}
	writeSuccess(w, map[string]any{
		"status": status,
		"checks": a.health.Results(),
	})
}

// handleMetricsJSON serves the structured dashboard snapshot.
func (a *API) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeSuccess(w, map[string]any{"dashboard": a.agg.Render(r.Context())})
}

type searchRequest struct {
	Query        string  `json:"query"`
	Limit        int     `json:"limit"`
	MinCertainty float64 `json:"min_certainty"`
}

type searchResult struct {
	BillID    string  `json:"bill_id"`
	Title     string  `json:"title"`
	Status    string  `json:"status"`
	Certainty float64 `json:"certainty"`
}

// handleSearch does a substring search over bill titles and outlines.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_body", "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	bills, err := a.store.ListBills(r.Context(), nil, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	results := make([]searchResult, 0, req.Limit)
	for _, b := range bills {
		certainty := 0.0
		switch {
		case strings.Contains(b.Title, req.Query):
			certainty = 0.95
		case strings.Contains(b.Outline, req.Query):
			certainty = 0.8
		default:
			continue
		}
		if certainty < req.MinCertainty {
			continue
		}
		results = append(results, searchResult{
			BillID:    b.BillID,
			Title:     b.Title,
			Status:    string(b.Status),
			Certainty: certainty,
		})
		if len(results) >= req.Limit {
			break
		}
	}
	writeSuccess(w, map[string]any{"results": results, "total": len(results)})
}

// handleAlerts exposes the alert engine state for the dashboard.
func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeSuccess(w, map[string]any{
		"active":  a.engine.ActiveAlerts(),
		"history": a.engine.History(100),
	})
}

// snapshotMetrics is the websocket broadcast payload.
func (a *API) snapshotMetrics(ctx context.Context) *monitor.Dashboard {
	return a.agg.Render(ctx)
}
