package main

import (
	"context"
	"hash/fnv"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/openkokkai/billtracker/cache"
	"github.com/openkokkai/billtracker/store"
)

// issueTags is the closed set of policy areas the stance endpoints accept.
var issueTags = []string{
	"economy",
	"social_security",
	"foreign_policy",
	"defense",
	"energy_environment",
	"education",
	"digital_policy",
	"constitution",
}

func validIssueTag(tag string) bool {
	for _, t := range issueTags {
		if t == tag {
			return true
		}
	}
	return false
}

// StanceProvider computes policy-stance analytics. The shipped
// implementation is the deterministic mock behind MOCK_ANALYTICS; a real
// provider can replace it without touching the handlers.
type StanceProvider interface {
	Analysis(ctx context.Context, memberID string) (map[string]any, error)
	Stance(ctx context.Context, memberID, tag string) (map[string]any, error)
	Compare(ctx context.Context, memberIDs []string, tag string) (map[string]any, error)
	Similar(ctx context.Context, memberID string, tags []string) ([]map[string]any, error)
	Trends(ctx context.Context, tag string, days int) (map[string]any, error)
	VotingStatsLoader(memberID string) cache.LoaderFunc
}

func (a *API) requireStance(w http.ResponseWriter) bool {
	if a.stance == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics_disabled",
			"no analytics provider configured")
		return false
	}
	return true
}

func (a *API) handlePolicyIssues(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeSuccess(w, map[string]any{"issues": issueTags})
}

// handlePolicyMemberSubtree dispatches /api/policy/member/{id}/analysis,
// .../stance/{tag}, and .../similar.
func (a *API) handlePolicyMemberSubtree(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if !a.requireStance(w) {
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/policy/member/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown policy resource")
		return
	}
	memberID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "analysis":
		analysis, err := a.stance.Analysis(r.Context(), memberID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "analytics_error", err.Error())
			return
		}
		writeSuccess(w, map[string]any{"member_id": memberID, "analysis": analysis})

	case len(parts) == 3 && parts[1] == "stance":
		tag := parts[2]
		if !validIssueTag(tag) {
			writeError(w, http.StatusUnprocessableEntity, "invalid_issue_tag",
				"issue tag must be one of the published set")
			return
		}
		stance, err := a.stance.Stance(r.Context(), memberID, tag)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "analytics_error", err.Error())
			return
		}
		writeSuccess(w, map[string]any{"member_id": memberID, "stance": stance})

	case len(parts) == 2 && parts[1] == "similar":
		var tags []string
		if raw := r.URL.Query().Get("issue_tags"); raw != "" {
			tags = splitList(raw)
			for _, t := range tags {
				if !validIssueTag(t) {
					writeError(w, http.StatusUnprocessableEntity, "invalid_issue_tag",
						"issue tag must be one of the published set")
					return
				}
			}
		}
		similar, err := a.stance.Similar(r.Context(), memberID, tags)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "analytics_error", err.Error())
			return
		}
		writeSuccess(w, map[string]any{"member_id": memberID, "similar": similar})

	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown policy resource")
	}
}

func (a *API) handlePolicyCompare(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !a.requireStance(w) {
		return
	}
	var req struct {
		MemberIDs []string `json:"member_ids"`
		IssueTag  string   `json:"issue_tag"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.MemberIDs) < 2 {
		writeError(w, http.StatusUnprocessableEntity, "invalid_body", "at least two member_ids required")
		return
	}
	if !validIssueTag(req.IssueTag) {
		writeError(w, http.StatusUnprocessableEntity, "invalid_issue_tag",
			"issue tag must be one of the published set")
		return
	}
	comparison, err := a.stance.Compare(r.Context(), req.MemberIDs, req.IssueTag)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "analytics_error", err.Error())
		return
	}
	writeSuccess(w, map[string]any{"comparison": comparison})
}

func (a *API) handlePolicyTrends(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if !a.requireStance(w) {
		return
	}
	tag := strings.TrimPrefix(r.URL.Path, "/api/policy/trends/")
	if !validIssueTag(tag) {
		writeError(w, http.StatusUnprocessableEntity, "invalid_issue_tag",
			"issue tag must be one of the published set")
		return
	}
	days := intQuery(r.URL.Query().Get("days"), 30)
	trends, err := a.stance.Trends(r.Context(), tag, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "analytics_error", err.Error())
		return
	}
	writeSuccess(w, map[string]any{"issue_tag": tag, "trends": trends})
}

// mockStanceProvider fabricates deterministic analytics from hashes so
// responses are stable across calls without a real model behind them.
type mockStanceProvider struct {
	store store.Store
}

func newMockStanceProvider(st store.Store) *mockStanceProvider {
	return &mockStanceProvider{store: st}
}

// score maps the joined parts to a stable value in [0, 1).
func (m *mockStanceProvider) score(parts ...string) float64 {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return float64(h.Sum32()%1000) / 1000.0
}

// stanceValue is in [-1, 1]: negative opposes, positive supports.
func (m *mockStanceProvider) stanceValue(memberID, tag string) float64 {
	return m.score(memberID, tag)*2 - 1
}

func (m *mockStanceProvider) Analysis(_ context.Context, memberID string) (map[string]any, error) {
	stances := make(map[string]float64, len(issueTags))
	for _, tag := range issueTags {
		stances[tag] = m.stanceValue(memberID, tag)
	}
	return map[string]any{
		"stances":    stances,
		"confidence": 0.5 + m.score(memberID)/2,
		"mock":       true,
	}, nil
}

func (m *mockStanceProvider) Stance(_ context.Context, memberID, tag string) (map[string]any, error) {
	return map[string]any{
		"issue_tag":  tag,
		"value":      m.stanceValue(memberID, tag),
		"confidence": 0.5 + m.score(memberID, tag)/2,
		"mock":       true,
	}, nil
}

func (m *mockStanceProvider) Compare(_ context.Context, memberIDs []string, tag string) (map[string]any, error) {
	values := make(map[string]float64, len(memberIDs))
	low, high := 1.0, -1.0
	for _, id := range memberIDs {
		v := m.stanceValue(id, tag)
		values[id] = v
		if v < low {
			low = v
		}
		if v > high {
			high = v
		}
	}
	return map[string]any{
		"issue_tag": tag,
		"values":    values,
		"agreement": 1 - (high-low)/2,
		"mock":      true,
	}, nil
}

func (m *mockStanceProvider) Similar(ctx context.Context, memberID string, tags []string) ([]map[string]any, error) {
	if len(tags) == 0 {
		tags = issueTags
	}
	members, err := m.store.ListMembers(ctx, nil, 0)
	if err != nil {
		return nil, err
	}
	type scored struct {
		id         string
		name       string
		similarity float64
	}
	candidates := make([]scored, 0, len(members))
	for _, other := range members {
		if other.MemberID == memberID {
			continue
		}
		var distance float64
		for _, tag := range tags {
			d := m.stanceValue(memberID, tag) - m.stanceValue(other.MemberID, tag)
			if d < 0 {
				d = -d
			}
			distance += d
		}
		candidates = append(candidates, scored{
			id:         other.MemberID,
			name:       other.Name,
			similarity: 1 - distance/(2*float64(len(tags))),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}
	out := make([]map[string]any, len(candidates))
	for i, c := range candidates {
		out[i] = map[string]any{
			"member_id":  c.id,
			"name":       c.name,
			"similarity": c.similarity,
			"mock":       true,
		}
	}
	return out, nil
}

func (m *mockStanceProvider) Trends(_ context.Context, tag string, days int) (map[string]any, error) {
	points := make([]map[string]any, days)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for i := 0; i < days; i++ {
		day := today.AddDate(0, 0, -(days - 1 - i))
		points[i] = map[string]any{
			"date":  day.Format("2006-01-02"),
			"value": m.stanceValue(tag, day.Format("2006-01-02")),
		}
	}
	return map[string]any{"points": points, "mock": true}, nil
}

func (m *mockStanceProvider) VotingStatsLoader(memberID string) cache.LoaderFunc {
	return func(context.Context) (any, error) {
		total := 200 + int(m.score(memberID, "total")*200)
		absent := int(float64(total) * m.score(memberID, "absent") * 0.1)
		abstain := int(float64(total) * m.score(memberID, "abstain") * 0.05)
		decisive := total - absent - abstain
		yes := int(float64(decisive) * (0.4 + m.score(memberID, "yes")*0.4))
		return map[string]any{
			"member_id":       memberID,
			"total_votes":     total,
			"yes":             yes,
			"no":              decisive - yes,
			"abstain":         abstain,
			"absent":          absent,
			"attendance_rate": float64(total-absent) / float64(total),
			"mock":            true,
		}, nil
	}
}

var _ StanceProvider = (*mockStanceProvider)(nil)
