package server_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"EirLedger/internal/coordinator"
	"EirLedger/internal/observability"
	"EirLedger/internal/server"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuns struct {
	started  []int64
	startErr error
	queue    []coordinator.StatusRecord
	active   bool
	cancels  int
}

func (f *fakeRuns) Start(id int64) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	f.active = true
	return nil
}

func (f *fakeRuns) Poll() (coordinator.StatusRecord, bool) {
	if len(f.queue) > 0 {
		r := f.queue[0]
		f.queue = f.queue[1:]
		return r, true
	}
	if f.active {
		return coordinator.StatusRecord{Status: coordinator.StatusRunning}, true
	}
	return coordinator.StatusRecord{}, false
}

func (f *fakeRuns) Cancel() string {
	f.cancels++
	if !f.active {
		return coordinator.MsgNothingToCancel
	}
	f.active = false
	return coordinator.MsgCancelled
}

func newHandler(t *testing.T, runs *fakeRuns, health *observability.HealthChecker) http.Handler {
	t.Helper()
	h, err := server.NewHTTPHandler(runs, health, zerolog.Nop())
	require.NoError(t, err)
	return h
}

func do(t *testing.T, h http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

// === Test: Routes ===

func TestHTTP_Root(t *testing.T) {
	code, body := do(t, newHandler(t, &fakeRuns{}, nil), http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestHTTP_CalculateAccepted(t *testing.T) {
	runs := &fakeRuns{}
	code, body := do(t, newHandler(t, runs, nil), http.MethodPost, "/calculate/42")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "Calculation with Execution ID: 42 started", body["msg"])
	assert.Equal(t, []int64{42}, runs.started)
}

func TestHTTP_CalculateBusy(t *testing.T) {
	runs := &fakeRuns{startErr: coordinator.ErrBusy}
	code, body := do(t, newHandler(t, runs, nil), http.MethodPost, "/calculate/43")
	assert.Equal(t, http.StatusTooEarly, code)
	assert.Equal(t, "Other calculation task is not finished yet", body["detail"])
}

func TestHTTP_CalculateUnexpectedError(t *testing.T) {
	runs := &fakeRuns{startErr: errors.New("boom")}
	code, _ := do(t, newHandler(t, runs, nil), http.MethodPost, "/calculate/43")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestHTTP_NonIntegerIDRejected(t *testing.T) {
	runs := &fakeRuns{}
	h := newHandler(t, runs, nil)
	for _, path := range []string{"/calculate/abc", "/status/1.5", "/cancel/x"} {
		code, body := do(t, h, http.MethodPost, path)
		assert.Equal(t, http.StatusUnprocessableEntity, code, path)
		assert.NotNil(t, body["detail"], path)
	}
	assert.Empty(t, runs.started)
	assert.Zero(t, runs.cancels)
}

func TestHTTP_StatusPopsQueue(t *testing.T) {
	runs := &fakeRuns{queue: []coordinator.StatusRecord{
		{Status: coordinator.StatusRunning, BusinessLogs: []coordinator.BusinessLog{
			{Level: coordinator.LevelInfo, Message: "progress: 1 of 2 calculated."},
		}},
		{Status: coordinator.StatusFinished, BusinessLogs: []coordinator.BusinessLog{
			{Level: coordinator.LevelInfo, Message: "progress: Calculation completed successfully!"},
		}},
	}}
	h := newHandler(t, runs, nil)

	code, body := do(t, h, http.MethodPost, "/status/42")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Running", body["Status"])
	logs := body["BusinessLogs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, "Info", logs[0].(map[string]any)["Level"])

	code, body = do(t, h, http.MethodPost, "/status/42")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Finished", body["Status"])

	code, body = do(t, h, http.MethodPost, "/status/42")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "No calculation in progress.", body["detail"])
	assert.Equal(t, coordinator.MsgNoStatus, body["detail"])
	assert.Zero(t, runs.cancels, "a status lookup never touches cancellation")
}

func TestHTTP_StatusRunningWithoutLogs(t *testing.T) {
	code, body := do(t, newHandler(t, &fakeRuns{active: true}, nil), http.MethodPost, "/status/1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body["BusinessLogs"])
}

func TestHTTP_Cancel(t *testing.T) {
	runs := &fakeRuns{active: true}
	h := newHandler(t, runs, nil)

	code, body := do(t, h, http.MethodPost, "/cancel/1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Calculation cancelled successfully.", body["msg"])

	code, body = do(t, h, http.MethodPost, "/cancel/1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "No calculation in progress.", body["msg"])
}

func TestHTTP_HealthProbes(t *testing.T) {
	hc := observability.NewHealthChecker(nil)
	h := newHandler(t, &fakeRuns{}, hc)

	code, _ := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	hc.SetReady(true)
	code, _ = do(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, code)
}

// === Test: Response errors ===

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	header http.Header
	code   int
}

func (w *brokenWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *brokenWriter) WriteHeader(code int) { w.code = code }

func (w *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset by peer") }

func TestHTTP_ResponseWriteErrorLogged(t *testing.T) {
	var logs bytes.Buffer
	h, err := server.NewHTTPHandler(&fakeRuns{}, nil, zerolog.New(&logs))
	require.NoError(t, err)

	w := &brokenWriter{}
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.code)
	var line map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &line))
	assert.Equal(t, "write response", line["message"])
	assert.Equal(t, "connection reset by peer", line["error"])
	assert.Equal(t, float64(http.StatusOK), line["status"])
}
