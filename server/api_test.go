package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/openkokkai/billtracker/cache"
	"github.com/openkokkai/billtracker/monitor"
	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/taskqueue"
)

type testEnv struct {
	api      *API
	mux      http.Handler
	store    *store.MemoryStore
	queue    *taskqueue.Queue
	pipeline *Pipeline
}

// newTestEnv wires the full handler stack over an in-memory store and a
// miniredis cache. The queue is constructed but not started so submitted
// jobs stay inspectable.
func newTestEnv(t *testing.T, withStance bool) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	c := cache.New(rdb)

	q := taskqueue.New(1)
	members := cache.NewMemberCache(c, st, q)

	health := monitor.NewHealthChecker()
	health.Register("store", func(ctx context.Context) error {
		_, err := st.ListBills(ctx, nil, 1)
		return err
	}, time.Second)
	health.RunOnce(context.Background())

	pipeline := NewPipeline(st, &stubCollector{}, t.TempDir())
	agg := buildAggregator(st, q, members, health, pipeline)
	engine := monitor.NewEngine(agg.Snapshot)

	var stance StanceProvider
	if withStance {
		stance = newMockStanceProvider(st)
	}

	api := NewAPI(Config{}, st, members, q, engine, health, agg, stance, pipeline)
	return &testEnv{
		api:      api,
		mux:      api.routes(http.NotFoundHandler()),
		store:    st,
		queue:    q,
		pipeline: pipeline,
	}
}

func (e *testEnv) seedMembers(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	seeds := []*store.Member{
		{MemberID: "m-1", Name: "山田太郎", NameKana: "やまだたろう", House: store.ChamberSangiin, Party: "自由民主党", Active: true},
		{MemberID: "m-2", Name: "鈴木花子", NameKana: "すずきはなこ", House: store.ChamberShugiin, Party: "立憲民主党", Active: true},
		{MemberID: "m-3", Name: "佐藤一郎", NameKana: "さとういちろう", House: store.ChamberSangiin, Party: "無所属", Active: true},
	}
	for _, m := range seeds {
		if err := e.store.UpsertMember(ctx, m); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)

	payload := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, payload
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	rec, payload := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if payload["success"] != true || payload["status"] != "healthy" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestMembersPaginationAndFilter(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedMembers(t)

	_, payload := env.do(t, http.MethodGet, "/api/members?per_page=2&page=2", "")
	if payload["total"] != float64(3) {
		t.Fatalf("total = %v, want 3", payload["total"])
	}
	if got := len(payload["members"].([]any)); got != 1 {
		t.Fatalf("page 2 has %d members, want 1", got)
	}

	_, payload = env.do(t, http.MethodGet, "/api/members?house=shugiin", "")
	if payload["total"] != float64(1) {
		t.Fatalf("shugiin total = %v, want 1", payload["total"])
	}

	_, payload = env.do(t, http.MethodGet, "/api/members?search=山田", "")
	if payload["total"] != float64(1) {
		t.Fatalf("search total = %v, want 1", payload["total"])
	}
}

func TestMemberNotFound(t *testing.T) {
	env := newTestEnv(t, false)
	rec, payload := env.do(t, http.MethodGet, "/api/members/no-such-member", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if payload["success"] != false || payload["error"] != "not_found" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, false)
	rec, payload := env.do(t, http.MethodDelete, "/api/members", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if payload["error"] != "method_not_allowed" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	bills := []*store.BillRecord{
		{BillID: "s-217-1", Title: "デジタル社会形成基本法案", Status: store.StatusInCommittee},
		{BillID: "s-217-2", Title: "予算案", Outline: "デジタル庁の予算を定める", Status: store.StatusPassed},
	}
	for _, b := range bills {
		if err := env.store.CreateBill(ctx, b); err != nil {
			t.Fatalf("seed bill: %v", err)
		}
	}

	_, payload := env.do(t, http.MethodPost, "/search", `{"query":"デジタル"}`)
	results := payload["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	first := results[0].(map[string]any)
	if first["certainty"] != 0.95 {
		t.Fatalf("title match certainty = %v, want 0.95", first["certainty"])
	}

	// Outline-only matches fall below a strict certainty floor.
	_, payload = env.do(t, http.MethodPost, "/search", `{"query":"デジタル","min_certainty":0.9}`)
	if got := len(payload["results"].([]any)); got != 1 {
		t.Fatalf("strict results = %d, want 1", got)
	}

	rec, _ := env.do(t, http.MethodPost, "/search", `{"query":"  "}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank query status = %d, want 422", rec.Code)
	}
}

func TestPolicyMockDeterminism(t *testing.T) {
	env := newTestEnv(t, true)
	env.seedMembers(t)

	_, first := env.do(t, http.MethodGet, "/api/policy/member/m-1/analysis", "")
	_, second := env.do(t, http.MethodGet, "/api/policy/member/m-1/analysis", "")
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("analysis not deterministic:\n%s\n%s", a, b)
	}

	rec, payload := env.do(t, http.MethodGet, "/api/policy/member/m-1/stance/astrology", "")
	if rec.Code != http.StatusUnprocessableEntity || payload["error"] != "invalid_issue_tag" {
		t.Fatalf("invalid tag: status %d payload %v", rec.Code, payload)
	}
}

func TestPolicyCompareValidation(t *testing.T) {
	env := newTestEnv(t, true)
	rec, _ := env.do(t, http.MethodPost, "/api/policy/compare", `{"member_ids":["m-1"],"issue_tag":"economy"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("single member status = %d, want 422", rec.Code)
	}

	rec, payload := env.do(t, http.MethodPost, "/api/policy/compare",
		`{"member_ids":["m-1","m-2"],"issue_tag":"economy"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	comparison := payload["comparison"].(map[string]any)
	if comparison["mock"] != true {
		t.Fatalf("comparison = %v", comparison)
	}
}

func TestAnalyticsDisabled(t *testing.T) {
	env := newTestEnv(t, false)

	// The tag list needs no provider.
	rec, _ := env.do(t, http.MethodGet, "/api/policy/issues", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("issues status = %d, want 200", rec.Code)
	}

	rec, payload := env.do(t, http.MethodGet, "/api/policy/member/m-1/analysis", "")
	if rec.Code != http.StatusServiceUnavailable || payload["error"] != "analytics_disabled" {
		t.Fatalf("status %d payload %v", rec.Code, payload)
	}
}

func TestBatchSubmitAndLookup(t *testing.T) {
	env := newTestEnv(t, true)
	env.seedMembers(t)

	rec, payload := env.do(t, http.MethodPost, "/admin/batch/member-statistics",
		`{"member_ids":["m-1","m-2"],"priority":"high"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %v", rec.Code, payload)
	}
	batch := payload["batch"].(map[string]any)
	if batch["total"] != float64(2) {
		t.Fatalf("batch = %v", batch)
	}

	batchID := batch["batch_id"].(string)
	_, payload = env.do(t, http.MethodGet, "/admin/batch/job/"+batchID, "")
	status := payload["batch"].(map[string]any)
	if status["state"] != string(taskqueue.BatchPending) {
		t.Fatalf("unstarted batch state = %v, want pending", status["state"])
	}

	jobID := batch["job_ids"].([]any)[0].(string)
	_, payload = env.do(t, http.MethodGet, "/admin/batch/job/"+jobID, "")
	job := payload["job"].(map[string]any)
	if job["state"] != string(taskqueue.StateQueued) {
		t.Fatalf("job state = %v, want queued", job["state"])
	}
}

func TestBatchValidation(t *testing.T) {
	env := newTestEnv(t, true)

	rec, _ := env.do(t, http.MethodPost, "/admin/batch/policy-stance", `{"member_ids":[]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty members status = %d, want 422", rec.Code)
	}

	rec, payload := env.do(t, http.MethodPost, "/admin/batch/policy-stance",
		`{"member_ids":["m-1"],"priority":"asap"}`)
	if rec.Code != http.StatusUnprocessableEntity || payload["error"] != "invalid_priority" {
		t.Fatalf("status %d payload %v", rec.Code, payload)
	}
}

func TestBatchQueuesAndFailedJobs(t *testing.T) {
	env := newTestEnv(t, false)

	_, payload := env.do(t, http.MethodGet, "/admin/batch/queues", "")
	queues := payload["queues"].(map[string]any)
	for _, lane := range []string{"urgent", "high", "normal", "low"} {
		if _, ok := queues[lane]; !ok {
			t.Fatalf("queues missing lane %s: %v", lane, queues)
		}
	}

	_, payload = env.do(t, http.MethodGet, "/admin/batch/failed-jobs", "")
	if payload["success"] != true {
		t.Fatalf("payload = %v", payload)
	}

	rec, _ := env.do(t, http.MethodPost, "/admin/batch/failed-jobs", `{"job_id":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("retry missing status = %d, want 404", rec.Code)
	}
}

func TestJobNotFound(t *testing.T) {
	env := newTestEnv(t, false)
	rec, _ := env.do(t, http.MethodGet, "/admin/batch/job/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCacheWarmupAndStats(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedMembers(t)

	_, payload := env.do(t, http.MethodPost, "/admin/cache/warmup", "")
	if payload["warmed"] != float64(3) {
		t.Fatalf("warmed = %v, want 3", payload["warmed"])
	}

	_, payload = env.do(t, http.MethodGet, "/admin/cache/stats", "")
	stats := payload["stats"].(map[string]any)
	// Three member keys plus the consolidated listing.
	if stats["total_keys"].(float64) < 4 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestCollectValidationAndRateLimit(t *testing.T) {
	env := newTestEnv(t, false)

	rec, payload := env.do(t, http.MethodPost, "/admin/members/collect", `{"house":"bundestag"}`)
	if rec.Code != http.StatusUnprocessableEntity || payload["error"] != "invalid_house" {
		t.Fatalf("status %d payload %v", rec.Code, payload)
	}

	// The limiter allows a burst of two; the third trigger must back off.
	env.do(t, http.MethodPost, "/admin/members/collect", `{"house":"bundestag"}`)
	rec, payload = env.do(t, http.MethodPost, "/admin/members/collect", `{"house":"bundestag"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if payload["error"] != "rate_limited" {
		t.Fatalf("payload = %v", payload)
	}
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 || retryAfter > 3 {
		t.Fatalf("Retry-After = %q, want a jittered whole-second value in [1,3]", rec.Header().Get("Retry-After"))
	}
}

func TestDashboardEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	rec, payload := env.do(t, http.MethodGet, "/api/dashboard", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	dashboard := payload["dashboard"].(map[string]any)
	if len(dashboard["panels"].([]any)) == 0 {
		t.Fatalf("dashboard = %v", dashboard)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	_, payload := env.do(t, http.MethodGet, "/admin/alerts", "")
	if payload["success"] != true {
		t.Fatalf("payload = %v", payload)
	}
}
