// Package admin exposes the operator HTTP API for the fulfillment pipeline.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-fulfillment/internal/common"
	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
	"github.com/noah-isme/toko-fulfillment/internal/runs"
)

// Dispatcher is satisfied by jobs.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, stage fulfillment.Stage, key string, delay time.Duration) (bool, error)
}

// RunReader is satisfied by runs.Store.
type RunReader interface {
	Last(ctx context.Context, stage fulfillment.Stage) (fulfillment.Report, error)
}

// AdapterInfo is satisfied by *fulfillment.Registry.
type AdapterInfo interface {
	Adapters() []string
	Adapter() (string, error)
	Validate() error
}

// Handler serves /admin/fulfillment.
type Handler struct {
	Dispatcher Dispatcher
	Runs       RunReader
	Registry   AdapterInfo
	Env        string
	Logger     zerolog.Logger
	Validator  *validator.Validate
}

type triggerRequest struct {
	DelaySeconds int `json:"delaySeconds" validate:"gte=0,lte=3600"`
}

// Routes mounts the fulfillment admin endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/adapters", h.ListAdapters)
	r.Route("/runs/{stage}", func(rr chi.Router) {
		rr.Post("/", h.TriggerRun)
		rr.Get("/", h.LastRun)
	})
}

// TriggerRun enqueues a run of the stage in the URL. An Idempotency-Key header
// deduplicates repeated requests.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}
	if h.Dispatcher == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue not configured", nil)
		return
	}

	var req triggerRequest
	if err := common.DecodeJSON(r, &req, false); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validator().Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "delaySeconds must be between 0 and 3600", nil)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		key = string(stage) + ":manual:" + key
	}
	queued, err := h.Dispatcher.Dispatch(r.Context(), stage, key, time.Duration(req.DelaySeconds)*time.Second)
	if err != nil {
		h.Logger.Error().Err(err).Str("stage", string(stage)).Msg("enqueue fulfillment run")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to enqueue run", nil)
		return
	}
	h.Logger.Info().Str("stage", string(stage)).Bool("queued", queued).Msg("fulfillment run requested")
	common.JSON(w, http.StatusAccepted, map[string]any{
		"stage":  stage,
		"queued": queued,
	})
}

// LastRun returns the most recent report recorded for the stage.
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}
	if h.Runs == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "run store not configured", nil)
		return
	}
	report, err := h.Runs.Last(r.Context(), stage)
	if errors.Is(err, runs.ErrNoRun) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no run recorded for stage", nil)
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       report,
		"counts":     report.Counts(),
		"durationMs": report.Duration().Milliseconds(),
	})
}

// ListAdapters reports the registered adapters and the configured one.
func (h *Handler) ListAdapters(w http.ResponseWriter, _ *http.Request) {
	if h.Registry == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "registry not configured", nil)
		return
	}
	resp := map[string]any{
		"env":      h.Env,
		"adapters": h.Registry.Adapters(),
		"valid":    true,
	}
	if configured, err := h.Registry.Adapter(); err == nil {
		resp["configured"] = configured
		resp["type"] = fulfillment.TypeName(configured)
	}
	if err := h.Registry.Validate(); err != nil {
		resp["valid"] = false
		resp["error"] = err.Error()
	}
	common.JSON(w, http.StatusOK, resp)
}

func (h *Handler) validator() *validator.Validate {
	if h.Validator != nil {
		return h.Validator
	}
	return defaultValidator
}

var defaultValidator = validator.New()

func stageParam(w http.ResponseWriter, r *http.Request) (fulfillment.Stage, bool) {
	stage, err := fulfillment.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		return "", false
	}
	return stage, true
}

// RequireToken rejects requests without "Authorization: Bearer <token>". An
// empty token disables the admin API entirely.
func RequireToken(token string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin api disabled", nil)
				return
			}
			header := r.Header.Get("Authorization")
			presented, found := strings.CutPrefix(header, "Bearer ")
			if !found || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), expected) != 1 {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
