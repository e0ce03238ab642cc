package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

const (
	defaultRunLimit     = 50
	maxRunLimit         = 500
	defaultEntriesLimit = 50
	maxEntriesLimit     = 500
	progressTimeout     = 3 * time.Second
)

// ProgressHandler exposes read-only job-run and entry endpoints.
type ProgressHandler struct {
	runs    crawler.RunStore
	entries crawler.EntryStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the stores and logger.
func NewProgressHandler(runs crawler.RunStore, entries crawler.EntryStore, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		runs:    runs,
		entries: entries,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?status=&limit=&offset=. It returns a JSON
// object {"runs": [...]} newest first, 400 for invalid filters, 503 when the
// run store is unavailable, or 500 if the store call fails.
func (h *ProgressHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *crawler.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.runs.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []crawler.JobRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// ListEntries handles GET /v1/entries?state=&limit=. state is the integer
// processing code, so state=-1 lists entries whose search failed.
func (h *ProgressHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	if h.entries == nil {
		writeError(w, http.StatusServiceUnavailable, "entry store unavailable")
		return
	}
	state, err := parseState(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _, err := parseLimitOffset(r, defaultEntriesLimit, maxEntriesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entries, err := h.entries.FindByState(ctx, state, limit)
	if err != nil {
		h.logger.Error("list entries failed", zap.Stringer("state", state), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	if entries == nil {
		entries = []crawler.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   state.String(),
		"entries": entries,
	})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (crawler.JobStatus, error) {
	switch s := crawler.JobStatus(strings.ToLower(input)); s {
	case crawler.JobStatusRunning,
		crawler.JobStatusRejected,
		crawler.JobStatusSucceeded,
		crawler.JobStatusFailed,
		crawler.JobStatusExpired:
		return s, nil
	case "success":
		return crawler.JobStatusSucceeded, nil
	case "error", "failure":
		return crawler.JobStatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

func parseState(input string) (crawler.ProcessingState, error) {
	if strings.TrimSpace(input) == "" {
		return 0, errors.New("state is required")
	}
	code, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, errors.New("invalid state")
	}
	state, err := crawler.ParseProcessingState(code)
	if err != nil {
		return 0, errors.New("invalid state")
	}
	return state, nil
}
