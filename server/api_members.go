package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/openkokkai/billtracker/store"
)

const defaultPageSize = 50

// handleMembers serves the paginated member listing with house, party,
// and search filters.
func (a *API) handleMembers(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if !a.listLimiter.Allow() {
		a.writeRateLimitError(w, "members")
		return
	}

	q := r.URL.Query()
	filter := store.Filter{}
	if house := q.Get("house"); house != "" {
		filter["house"] = house
	}
	if party := q.Get("party"); party != "" {
		filter["party"] = party
	}

	members, err := a.members.ListMembers(r.Context(), filter, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	if search := q.Get("search"); search != "" {
		filtered := members[:0]
		for _, m := range members {
			if strings.Contains(m.Name, search) || strings.Contains(m.NameKana, search) {
				filtered = append(filtered, m)
			}
		}
		members = filtered
	}

	page := intQuery(q.Get("page"), 1)
	perPage := intQuery(q.Get("per_page"), defaultPageSize)
	total := len(members)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	writeSuccess(w, map[string]any{
		"members":  members[start:end],
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// handleMemberSubtree dispatches /api/members/{id} and
// /api/members/{id}/voting-stats.
func (a *API) handleMemberSubtree(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/members/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "not_found", "member id is required")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/voting-stats"); ok {
		a.serveVotingStats(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not_found", "unknown member resource")
		return
	}

	m, err := a.members.GetMember(r.Context(), rest)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "not_found", "no such member")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeSuccess(w, map[string]any{"member": m})
}

func (a *API) serveVotingStats(w http.ResponseWriter, r *http.Request, memberID string) {
	if !a.requireStance(w) {
		return
	}
	if _, err := a.members.GetMember(r.Context(), memberID); err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "not_found", "no such member")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	raw, err := a.members.MemberStats(r.Context(), memberID, a.stance.VotingStatsLoader(memberID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "analytics_error", err.Error())
		return
	}
	writeSuccess(w, map[string]any{"member_id": memberID, "stats": raw})
}

func intQuery(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
