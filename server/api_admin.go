package main

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openkokkai/billtracker/pdfextract"
	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/taskqueue"
)

const (
	collectTimeout   = 15 * time.Minute
	migrationTimeout = time.Hour
)

// handleMembersCollect triggers an ingest pass as a background job. House
// is sangiin, shugiin, or both; both runs the full cross-chamber merge.
func (a *API) handleMembersCollect(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !a.collectLimiter.Allow() {
		a.writeRateLimitError(w, "collect")
		return
	}
	var req struct {
		House string `json:"house"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var chambers []store.Chamber
	switch req.House {
	case "both":
	case string(store.ChamberSangiin), string(store.ChamberShugiin):
		chambers = []store.Chamber{store.Chamber(req.House)}
	default:
		writeError(w, http.StatusUnprocessableEntity, "invalid_house",
			"house must be sangiin, shugiin, or both")
		return
	}

	jobID, err := a.queue.Enqueue(taskqueue.PriorityHigh, "collect:"+req.House,
		func(ctx context.Context) (any, error) {
			summary, err := a.pipeline.Ingest(ctx, chambers...)
			if err != nil {
				return nil, err
			}
			return summary, nil
		}, collectTimeout, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}
	writeSuccess(w, map[string]any{"job_id": jobID, "house": req.House})
}

// handleRepair queues one audit-plan-execute repair cycle over the stored
// corpus.
func (a *API) handleRepair(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	jobID, err := a.queue.Enqueue(taskqueue.PriorityNormal, "repair",
		func(ctx context.Context) (any, error) {
			report, batch, err := a.pipeline.Repair(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"issues_found": len(report.Issues),
				"batch":        batch,
			}, nil
		}, collectTimeout, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}
	writeSuccess(w, map[string]any{"job_id": jobID})
}

// handleMigrationRun queues a phased migration. An empty bill_ids list
// targets the whole corpus.
func (a *API) handleMigrationRun(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		BillIDs []string `json:"bill_ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	jobID, err := a.queue.Enqueue(taskqueue.PriorityLow, "migration",
		func(ctx context.Context) (any, error) {
			exec, report := a.pipeline.Migrate(ctx, req.BillIDs)
			return map[string]any{"execution": exec, "report": report}, nil
		}, migrationTimeout, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}
	writeSuccess(w, map[string]any{"job_id": jobID})
}

// handleVotesExtract parses an uploaded roll-call PDF for one bill and
// records the tally. The PDF travels base64-encoded in the JSON body.
func (a *API) handleVotesExtract(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		BillID    string `json:"bill_id"`
		PDFBase64 string `json:"pdf_base64"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BillID == "" || req.PDFBase64 == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_body",
			"bill_id and pdf_base64 are required")
		return
	}
	pdfBytes, err := base64.StdEncoding.DecodeString(req.PDFBase64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_body", "pdf_base64 is not valid base64")
		return
	}

	session, err := a.pipeline.ExtractVotes(r.Context(), req.BillID, pdfBytes)
	if err != nil {
		switch {
		case err == store.ErrNotFound:
			writeError(w, http.StatusNotFound, "not_found", "no such bill")
		case errors.Is(err, pdfextract.ErrSessionRejected):
			writeError(w, http.StatusUnprocessableEntity, "session_rejected", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "extract_error", err.Error())
		}
		return
	}
	writeSuccess(w, map[string]any{
		"session_id": session.SessionID,
		"strategy":   session.Strategy,
		"records":    len(session.Records),
		"tally":      session.Tally(),
	})
}

// handleCacheWarmup preloads every stored member into the cache.
func (a *API) handleCacheWarmup(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	members, err := a.store.ListMembers(r.Context(), nil, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if err := a.members.Warmup(r.Context(), members); err != nil {
		writeError(w, http.StatusInternalServerError, "cache_error", err.Error())
		return
	}
	writeSuccess(w, map[string]any{"warmed": len(members)})
}

func (a *API) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := a.members.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cache_error", err.Error())
		return
	}
	writeSuccess(w, map[string]any{"stats": stats})
}

type batchRequest struct {
	MemberIDs []string `json:"member_ids"`
	Priority  string   `json:"priority"`
}

func (a *API) decodeBatchRequest(w http.ResponseWriter, r *http.Request) (*batchRequest, taskqueue.Priority, bool) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return nil, "", false
	}
	if len(req.MemberIDs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid_body", "member_ids is required")
		return nil, "", false
	}
	priority := taskqueue.PriorityNormal
	if req.Priority != "" {
		switch p := taskqueue.Priority(req.Priority); p {
		case taskqueue.PriorityUrgent, taskqueue.PriorityHigh, taskqueue.PriorityNormal, taskqueue.PriorityLow:
			priority = p
		default:
			writeError(w, http.StatusUnprocessableEntity, "invalid_priority",
				"priority must be urgent, high, normal, or low")
			return nil, "", false
		}
	}
	return &req, priority, true
}

// handleBatchMemberStatistics recomputes voting statistics for the listed
// members as one batch.
func (a *API) handleBatchMemberStatistics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !a.requireStance(w) {
		return
	}
	req, priority, ok := a.decodeBatchRequest(w, r)
	if !ok {
		return
	}

	tasks := make([]taskqueue.BatchTask, len(req.MemberIDs))
	for i, id := range req.MemberIDs {
		memberID := id
		tasks[i] = taskqueue.BatchTask{
			Description: "member_statistics:" + memberID,
			Fn: func(ctx context.Context) (any, error) {
				return a.members.MemberStats(ctx, memberID, a.stance.VotingStatsLoader(memberID))
			},
			Timeout: time.Minute,
		}
	}
	a.submitBatch(w, tasks, priority)
}

// handleBatchPolicyStance recomputes the full stance analysis for the
// listed members as one batch.
func (a *API) handleBatchPolicyStance(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !a.requireStance(w) {
		return
	}
	req, priority, ok := a.decodeBatchRequest(w, r)
	if !ok {
		return
	}

	tasks := make([]taskqueue.BatchTask, len(req.MemberIDs))
	for i, id := range req.MemberIDs {
		memberID := id
		tasks[i] = taskqueue.BatchTask{
			Description: "policy_stance:" + memberID,
			Fn: func(ctx context.Context) (any, error) {
				return a.stance.Analysis(ctx, memberID)
			},
			Timeout: time.Minute,
		}
	}
	a.submitBatch(w, tasks, priority)
}

func (a *API) submitBatch(w http.ResponseWriter, tasks []taskqueue.BatchTask, priority taskqueue.Priority) {
	sub, err := a.queue.SubmitBatch(uuid.NewString(), tasks, priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}
	writeSuccess(w, map[string]any{"batch": sub})
}

// handleBatchJob serves /admin/batch/job/{id} for both job and batch ids.
func (a *API) handleBatchJob(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/admin/batch/job/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "job id is required")
		return
	}

	if status, err := a.queue.JobStatus(id); err == nil {
		writeSuccess(w, map[string]any{"job": status})
		return
	}
	if status, err := a.queue.BatchStatus(id); err == nil {
		writeSuccess(w, map[string]any{"batch": status})
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "no such job or batch")
}

func (a *API) handleBatchQueues(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeSuccess(w, map[string]any{"queues": a.queue.QueueStats()})
}

// handleFailedJobs lists recent failures; POST with a job_id retries one.
func (a *API) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := intQuery(r.URL.Query().Get("limit"), 50)
		writeSuccess(w, map[string]any{"failed": a.queue.FailedJobs(limit)})

	case http.MethodPost:
		var req struct {
			JobID string `json:"job_id"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := a.queue.RetryFailed(req.JobID); err != nil {
			if err == taskqueue.ErrJobNotFound {
				writeError(w, http.StatusNotFound, "not_found", "no such job")
				return
			}
			writeError(w, http.StatusUnprocessableEntity, "retry_error", err.Error())
			return
		}
		writeSuccess(w, map[string]any{"job_id": req.JobID, "retried": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or POST")
	}
}
