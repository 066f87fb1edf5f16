package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-fulfillment/internal/common"
)

const maxPageSize = 200

var errDuplicateTask = errors.New("an identical task is already queued")

// AdminHandler serves the operator endpoints for inspecting the queue and
// replaying or discarding dead-lettered tasks. Kind is the task kind assumed
// when a request does not name one.
type AdminHandler struct {
	Store             Store
	Queue             Enqueuer
	Kind              string
	PageSize          int
	Logger            zerolog.Logger
	VisibilityTimeout time.Duration
}

// Routes mounts the handler on r.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/stats", h.Stats)
	r.Get("/dlq", h.ListDLQ)
	r.Post("/dlq/replay", h.ReplayDLQ)
	r.Delete("/dlq/{id}", h.DiscardDLQ)
}

type dlqItem struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Attempts       int             `json:"attempts"`
	LastError      *string         `json:"lastError,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// ListDLQ pages through dead-lettered tasks, newest first.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue store unavailable", nil)
		return
	}
	ctx := r.Context()
	kind := h.kind(r.URL.Query().Get("kind"))
	limit := queryInt(r, "limit", h.pageSize(), 1, maxPageSize)
	offset := queryInt(r, "offset", 0, 0, -1)

	entries, err := h.Store.ListQueueDlq(ctx, kind, limit, offset)
	if err != nil {
		h.internalError(w, err, "list dlq")
		return
	}
	total, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		h.internalError(w, err, "count dlq")
		return
	}

	items := make([]dlqItem, 0, len(entries))
	for _, entry := range entries {
		item := dlqItem{
			ID:             entry.ID,
			Kind:           entry.Kind,
			IdempotencyKey: entry.IdempotencyKey,
			Attempts:       entry.Attempts,
			LastError:      entry.LastError,
			CreatedAt:      entry.CreatedAt,
		}
		if msg, err := decodeMessage(string(entry.Payload)); err == nil && json.Valid(msg.Payload) {
			item.Payload = msg.Payload
		}
		items = append(items, item)
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"kind":   kind,
		"data":   items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit"`
}

// ReplayDLQ puts dead-lettered tasks back on the ready queue with a fresh
// attempt budget. The body names either explicit ids or a kind whose newest
// entries (up to limit) are replayed.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue dependencies unavailable", nil)
		return
	}
	var req replayRequest
	if err := common.DecodeJSON(r, &req, true); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	ids := uniqueStrings(req.IDs)
	if len(ids) == 0 && strings.TrimSpace(req.Kind) == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or kind required", nil)
		return
	}

	ctx := r.Context()
	failed := make(map[string]string)
	var entries []DLQEntry
	if len(ids) > 0 {
		for _, raw := range ids {
			id, err := uuid.Parse(raw)
			if err != nil {
				failed[raw] = "invalid uuid"
				continue
			}
			entry, err := h.Store.GetQueueDlq(ctx, id)
			if err != nil {
				failed[raw] = err.Error()
				continue
			}
			entries = append(entries, entry)
		}
	} else {
		limit := req.Limit
		if limit <= 0 || limit > maxPageSize {
			limit = h.pageSize()
		}
		var err error
		entries, err = h.Store.ListQueueDlq(ctx, h.kind(req.Kind), limit, 0)
		if err != nil {
			h.internalError(w, err, "list dlq for replay")
			return
		}
	}

	replayed := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		if err := h.replay(ctx, entry); err != nil {
			failed[entry.ID.String()] = err.Error()
			continue
		}
		replayed = append(replayed, entry.ID)
	}
	h.Logger.Info().Int("replayed", len(replayed)).Int("failed", len(failed)).Msg("dlq replay")

	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

// DiscardDLQ deletes one dead-lettered task without replaying it.
func (h *AdminHandler) DiscardDLQ(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue store unavailable", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid id", nil)
		return
	}
	ctx := r.Context()
	entry, err := h.Store.GetQueueDlq(ctx, id)
	if errors.Is(err, ErrEntryNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "dlq entry not found", nil)
		return
	}
	if err != nil {
		h.internalError(w, err, "get dlq entry")
		return
	}
	if err := h.Store.DeleteQueueDlq(ctx, id); err != nil && !errors.Is(err, ErrEntryNotFound) {
		h.internalError(w, err, "delete dlq entry")
		return
	}
	h.syncDLQGauge(ctx, entry.Kind)
	h.Logger.Info().Str("dlq_id", id.String()).Str("kind", entry.Kind).Msg("dlq entry discarded")
	w.WriteHeader(http.StatusNoContent)
}

// Stats reports ready, in-flight and dead-lettered counts for a kind plus the
// age of the oldest ready task.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue dependencies unavailable", nil)
		return
	}
	kind := h.kind(r.URL.Query().Get("kind"))
	if kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return
	}
	ctx := r.Context()
	readyKey := queueKey(h.Queue.Prefix, kind)

	ready, err := h.Queue.R.ZCard(ctx, readyKey).Result()
	if err != nil {
		h.internalError(w, err, "queue depth")
		return
	}
	inflight, err := h.Queue.R.ZCard(ctx, processingKey(h.Queue.Prefix, kind)).Result()
	if err != nil {
		h.internalError(w, err, "processing depth")
		return
	}
	dead, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		h.internalError(w, err, "count dlq")
		return
	}

	var lag time.Duration
	if oldest, err := h.Queue.R.ZRangeWithScores(ctx, readyKey, 0, 0).Result(); err == nil && len(oldest) > 0 {
		if due := time.Unix(0, int64(oldest[0].Score)); due.Before(time.Now()) {
			lag = time.Since(due)
		}
	}

	if QueueDepth != nil {
		QueueDepth.WithLabelValues(queueLabel(kind)).Set(float64(ready))
	}
	if QueueDLQSize != nil {
		QueueDLQSize.WithLabelValues(queueLabel(kind)).Set(float64(dead))
	}

	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = time.Minute
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"kind":               kind,
		"ready":              ready,
		"processing":         inflight,
		"dlq":                dead,
		"oldest_lag_ms":      lag.Milliseconds(),
		"visibility_timeout": visibility.Seconds(),
	})
}

func (h *AdminHandler) replay(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	task := Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
	}
	queued, err := h.Queue.EnqueueUnique(ctx, task)
	if err != nil {
		return err
	}
	if !queued {
		return errDuplicateTask
	}
	if err := h.Store.DeleteQueueDlq(ctx, entry.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
		return err
	}
	h.syncDLQGauge(ctx, msg.Kind)
	return nil
}

func (h *AdminHandler) syncDLQGauge(ctx context.Context, kind string) {
	if QueueDLQSize == nil {
		return
	}
	if count, err := h.Store.CountQueueDlq(ctx, sanitizeKind(kind)); err == nil {
		QueueDLQSize.WithLabelValues(queueLabel(kind)).Set(float64(count))
	}
}

func (h *AdminHandler) internalError(w http.ResponseWriter, err error, op string) {
	h.Logger.Error().Err(err).Str("op", op).Msg("queue admin")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", op+" failed", nil)
}

func (h *AdminHandler) kind(raw string) string {
	if kind := sanitizeKind(strings.TrimSpace(raw)); kind != "" {
		return kind
	}
	return sanitizeKind(h.Kind)
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 || h.PageSize > maxPageSize {
		return 50
	}
	return h.PageSize
}

// queryInt reads a bounded integer query parameter; max < 0 means unbounded.
func queryInt(r *http.Request, name string, fallback, min, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || (max >= 0 && v > max) {
		return fallback
	}
	return v
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
