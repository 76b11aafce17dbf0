package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"EirLedger/internal/coordinator"
	"EirLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

// Runs is the run control surface the HTTP routes drive.
type Runs interface {
	Start(runID int64) error
	Poll() (coordinator.StatusRecord, bool)
	Cancel() string
}

const idParam = "calculation_task_id"

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

type handlers struct {
	runs Runs
	log  zerolog.Logger
}

// NewHTTPHandler routes the run endpoints and, when health is set, the
// liveness and readiness probes.
func NewHTTPHandler(runs Runs, health *observability.HealthChecker, log zerolog.Logger) (http.Handler, error) {
	h := &handlers{runs: runs, log: log}
	mux := runtime.NewServeMux()

	routes := []route{
		{http.MethodGet, "/", h.root},
		{http.MethodPost, "/calculate/{" + idParam + "}", h.withRunID(h.calculate)},
		{http.MethodPost, "/status/{" + idParam + "}", h.withRunID(h.status)},
		{http.MethodPost, "/cancel/{" + idParam + "}", h.withRunID(h.cancel)},
	}
	if health != nil {
		routes = append(routes,
			route{http.MethodGet, "/healthz", adapt(health.LivenessHandler)},
			route{http.MethodGet, "/readyz", adapt(health.ReadinessHandler)},
		)
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("route %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func adapt(f http.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		f(w, r)
	}
}

// withRunID rejects a non-integer run id with 422 before calling next.
func (h *handlers) withRunID(next func(w http.ResponseWriter, r *http.Request, runID int64)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		id, err := strconv.ParseInt(params[idParam], 10, 64)
		if err != nil {
			h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"detail": []map[string]any{{
					"loc":  []string{"path", idParam},
					"msg":  "value is not a valid integer",
					"type": "type_error.integer",
				}},
			})
			return
		}
		next(w, r, id)
	}
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) calculate(w http.ResponseWriter, _ *http.Request, runID int64) {
	if err := h.runs.Start(runID); err != nil {
		if errors.Is(err, coordinator.ErrBusy) {
			h.writeJSON(w, http.StatusTooEarly, map[string]string{
				"detail": "Other calculation task is not finished yet",
			})
			return
		}
		h.log.Error().Err(err).Int64("run_id", runID).Msg("start run")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"msg": fmt.Sprintf("Calculation with Execution ID: %d started", runID),
	})
}

// status ignores the run id: the coordinator only ever tracks one run.
func (h *handlers) status(w http.ResponseWriter, _ *http.Request, _ int64) {
	rec, ok := h.runs.Poll()
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"detail": coordinator.MsgNoStatus})
		return
	}
	if rec.BusinessLogs == nil {
		rec.BusinessLogs = []coordinator.BusinessLog{}
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) cancel(w http.ResponseWriter, _ *http.Request, runID int64) {
	msg := h.runs.Cancel()
	h.log.Info().Int64("run_id", runID).Str("result", msg).Msg("cancel requested")
	h.writeJSON(w, http.StatusOK, map[string]string{"msg": msg})
}

func (h *handlers) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Int("status", code).Msg("write response")
	}
}
