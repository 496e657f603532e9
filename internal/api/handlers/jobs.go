package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"polly/internal/core"
	notifcore "polly/internal/notifications/core"
	"polly/internal/types"
)

// defaultRunLimit caps a batch run when the caller does not specify one.
const defaultRunLimit = 50

// maxRunLimit bounds operator-supplied batch sizes.
const maxRunLimit = 1000

// BatchRunner executes one delivery batch.
type BatchRunner interface {
	RunBatch(ctx context.Context, now time.Time, limit int) (notifcore.BatchResult, error)
}

// RunBatchRequest is the body for POST /internal/notifications/run. Both
// fields are optional: now defaults to the current instant (override for
// backfills and deterministic tests), limit to defaultRunLimit.
type RunBatchRequest struct {
	Now   *time.Time `json:"now,omitempty"`
	Limit *int       `json:"limit,omitempty"`
}

// JobHandler exposes the internal batch-run surface. Normally the notifier
// worker drives batches on a schedule; this endpoint exists for operators and
// tests.
type JobHandler struct {
	processor BatchRunner
	clock     types.Clock
	logger    *slog.Logger
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(processor BatchRunner, clock types.Clock, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{processor: processor, clock: clock, logger: logger}
}

// Mount registers the job routes on the service-token-protected router group.
func (h *JobHandler) Mount(r chi.Router) {
	r.Post("/notifications/run", h.Run)
}

// Run handles POST /internal/notifications/run and returns the batch summary.
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunBatchRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		// An empty body means "run with defaults".
		var appErr *types.AppError
		if !errors.As(err, &appErr) || !isEmptyBody(appErr) {
			core.Error(w, r, err)
			return
		}
	}

	now := h.clock.Now()
	if req.Now != nil {
		now = req.Now.UTC()
	}

	limit := defaultRunLimit
	if req.Limit != nil {
		if *req.Limit < 1 || *req.Limit > maxRunLimit {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be a number between 1 and 1000",
				nil,
			))
			return
		}
		limit = *req.Limit
	}

	result, err := h.processor.RunBatch(r.Context(), now, limit)
	if err != nil {
		h.logger.Error("batch run failed", "error", err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// isEmptyBody reports whether a DecodeJSON error was caused by an absent body.
func isEmptyBody(appErr *types.AppError) bool {
	return errors.Is(appErr.Unwrap(), io.EOF)
}
