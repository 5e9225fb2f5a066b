package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"NutriPlan/internal/completion"
	"NutriPlan/internal/memory"
	"NutriPlan/internal/planner"
	"NutriPlan/internal/prompt"
	"NutriPlan/internal/transcript"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const breakfastBody = `{
	"profile": {
		"height": 170, "weight": 70, "age": 30,
		"activity_level": "Moderately Active",
		"goals": "weight loss", "dietary_restrictions": "none", "health_issues": "none"
	},
	"message": "What should I eat for breakfast?"
}`

type fixture struct {
	handler  http.Handler
	pipeline *planner.Pipeline
	store    *transcript.FileStore
}

func newFixture(t *testing.T, client completion.Client, rateLimit float64) fixture {
	t.Helper()
	p := planner.New(prompt.Basic, memory.New(), client, planner.Settings{Temperature: 0.7, MaxTokens: 2000})
	store := transcript.NewFileStore(filepath.Join(t.TempDir(), "chat_history.json"))
	s := New(Deps{Pipeline: p, Store: store, RateLimit: rateLimit})
	return fixture{handler: s.RegisterRoutes(), pipeline: p, store: store}
}

func replying(text string) completion.Client {
	return completion.Func(func(ctx context.Context, req completion.Request) completion.Result {
		return completion.Result{Text: text}
	})
}

func failing(kind completion.Kind) completion.Client {
	return completion.Func(func(ctx context.Context, req completion.Request) completion.Result {
		return completion.Failed(completion.NewFailure(kind, "stub failure", nil))
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestPlanBreakfast(t *testing.T) {
	f := newFixture(t, replying("Eat oats."), 0)

	rec, out := do(t, f.handler, http.MethodPost, "/plan", breakfastBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", out["state"])
	assert.Equal(t, "Eat oats.", out["reply"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, 2, f.pipeline.TurnCount())
}

func TestPlanKeepsRequestID(t *testing.T) {
	f := newFixture(t, replying("ok"), 0)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestPlanMissingFieldIsUnprocessable(t *testing.T) {
	f := newFixture(t, replying("unused"), 0)
	body := strings.Replace(breakfastBody, `"goals": "weight loss", `, "", 1)

	rec, out := do(t, f.handler, http.MethodPost, "/plan", body)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "failed", out["state"])
	assert.Equal(t, "missing_slot", out["kind"])
	assert.Equal(t, "goals", out["slot"])
	assert.Zero(t, f.pipeline.TurnCount())
}

func TestPlanRejectsOutOfRangeValue(t *testing.T) {
	f := newFixture(t, replying("unused"), 0)
	body := strings.Replace(breakfastBody, `"height": 170`, `"height": 999`, 1)

	rec, out := do(t, f.handler, http.MethodPost, "/plan", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "height")
}

func TestPlanRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t, replying("unused"), 0)
	body := strings.Replace(breakfastBody, "What should I eat for breakfast?", "  ", 1)

	rec, _ := do(t, f.handler, http.MethodPost, "/plan", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanFailureStatuses(t *testing.T) {
	cases := map[completion.Kind]int{
		completion.KindRateLimit:          http.StatusTooManyRequests,
		completion.KindAuthentication:     http.StatusBadGateway,
		completion.KindNetwork:            http.StatusGatewayTimeout,
		completion.KindBackend:            http.StatusBadGateway,
		completion.KindBackendUnavailable: http.StatusServiceUnavailable,
	}
	for kind, status := range cases {
		t.Run(kind.String(), func(t *testing.T) {
			f := newFixture(t, failing(kind), 0)

			rec, out := do(t, f.handler, http.MethodPost, "/plan", breakfastBody)

			assert.Equal(t, status, rec.Code)
			assert.Equal(t, kind.String(), out["kind"])
			assert.NotEmpty(t, out["error"])
			assert.Zero(t, f.pipeline.TurnCount())
		})
	}
}

func TestPlanRateLimited(t *testing.T) {
	f := newFixture(t, replying("ok"), 1)

	first, _ := do(t, f.handler, http.MethodPost, "/plan", breakfastBody)
	second, out := do(t, f.handler, http.MethodPost, "/plan", breakfastBody)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, out["error"], "Too many plan requests")
	assert.Equal(t, 2, f.pipeline.TurnCount())
}

func postPlanVia(h http.Handler, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/plan", strings.NewReader(breakfastBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPlanRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	f := newFixture(t, replying("ok"), 1)

	first := postPlanVia(f.handler, "192.0.2.1:1234", "203.0.113.1")
	second := postPlanVia(f.handler, "192.0.2.1:1234", "203.0.113.2")

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestPlanRateLimitHonoursForwardedForFromTrustedProxy(t *testing.T) {
	f := newFixture(t, replying("ok"), 1)

	first := postPlanVia(f.handler, "10.0.0.5:4321", "203.0.113.1")
	second := postPlanVia(f.handler, "10.0.0.5:4321", "203.0.113.2")

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
}

func TestFormAndStatus(t *testing.T) {
	f := newFixture(t, replying("ok"), 0)

	rec, out := do(t, f.handler, http.MethodGet, "/form", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "basic", out["variant"])
	assert.Len(t, out["fields"], 7)

	rec, out = do(t, f.handler, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", out["state"])
	assert.EqualValues(t, 0, out["turns"])
}

func TestHistorySaveResetLoad(t *testing.T) {
	f := newFixture(t, replying("Eat oats."), 0)
	do(t, f.handler, http.MethodPost, "/plan", breakfastBody)

	rec, out := do(t, f.handler, http.MethodPost, "/history/save", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, out["count"])

	rec, _ = do(t, f.handler, http.MethodDelete, "/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.pipeline.TurnCount())

	rec, out = do(t, f.handler, http.MethodPost, "/history/load", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, out["count"])

	rec, out = do(t, f.handler, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	turns := out["turns"].([]any)
	require.Len(t, turns, 2)
	first := turns[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "What should I eat for breakfast?", first["text"])
}

func TestHistoryLoadMissingFileIsEmpty(t *testing.T) {
	f := newFixture(t, replying("ok"), 0)
	do(t, f.handler, http.MethodPost, "/plan", breakfastBody)

	rec, out := do(t, f.handler, http.MethodPost, "/history/load", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, out["count"])
	assert.Zero(t, f.pipeline.TurnCount())
}

func TestHealth(t *testing.T) {
	f := newFixture(t, replying("ok"), 0)

	rec, out := do(t, f.handler, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "up", out["status"])
	transcriptStats := out["transcript"].(map[string]any)
	assert.Equal(t, "file", transcriptStats["backend"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(completion.KindBusy))
	assert.Equal(t, http.StatusRequestTimeout, statusFor(completion.KindCanceled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(completion.KindUnknown))
}

/* ====================================================================
                   		Streaming
==================================================================== */

type stubStreamer struct{ deltas []string }

func (s stubStreamer) Complete(ctx context.Context, req completion.Request) completion.Result {
	return completion.Result{Text: strings.Join(s.deltas, "")}
}

func (s stubStreamer) Stream(ctx context.Context, req completion.Request, onDelta func(string)) completion.Result {
	for _, d := range s.deltas {
		onDelta(d)
	}
	return completion.Result{Text: strings.Join(s.deltas, "")}
}

func dialStream(t *testing.T, h http.Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/plan/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPlanStream(t *testing.T) {
	f := newFixture(t, stubStreamer{deltas: []string{"Eat ", "oats."}}, 0)
	conn := dialStream(t, f.handler)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(breakfastBody)))

	var deltas []string
	for {
		var frame streamFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == "delta" {
			deltas = append(deltas, frame.Delta)
			continue
		}
		require.Equal(t, "done", frame.Type)
		require.NotNil(t, frame.Plan)
		assert.Equal(t, "Eat oats.", frame.Plan.Reply)
		break
	}

	assert.Equal(t, []string{"Eat ", "oats."}, deltas)
	assert.Equal(t, 2, f.pipeline.TurnCount())
}

func TestPlanStreamReportsInvalidRequest(t *testing.T) {
	f := newFixture(t, stubStreamer{deltas: []string{"x"}}, 0)
	conn := dialStream(t, f.handler)

	body := strings.Replace(breakfastBody, `"age": 30`, `"age": 5`, 1)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(body)))

	var frame streamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Type)
	assert.Contains(t, frame.Error, "age")
	assert.Zero(t, f.pipeline.TurnCount())
}
