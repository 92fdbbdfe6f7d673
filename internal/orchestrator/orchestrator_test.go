package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/failure-lambda-proxy/internal/flags"
	"github.com/vitaliisemenov/failure-lambda-proxy/pkg/upstream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func muxSetVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

// staticConfig is a ConfigProvider that always returns the same FlagConfig.
type staticConfig struct {
	cfg flags.FlagConfig
}

func (s staticConfig) GetConfig(context.Context) flags.FlagConfig { return s.cfg }

// fakeUpstream emulates the real Runtime API: a queue of events for /next,
// and recorders for what got POSTed to /response and /error.
type fakeUpstream struct {
	mu        sync.Mutex
	events    []queuedEvent
	responses []recordedPost
	errors    []recordedPost
	server    *httptest.Server
}

type queuedEvent struct {
	requestID  string
	deadlineMs int64
	body       string
}

type recordedPost struct {
	id   string
	body string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	fu := &fakeUpstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/2018-06-01/runtime/invocation/next", func(w http.ResponseWriter, r *http.Request) {
		fu.mu.Lock()
		defer fu.mu.Unlock()
		if len(fu.events) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		ev := fu.events[0]
		fu.events = fu.events[1:]
		w.Header().Set("Lambda-Runtime-Aws-Request-Id", ev.requestID)
		w.Header().Set("Lambda-Runtime-Deadline-Ms", strconv.FormatInt(ev.deadlineMs, 10))
		w.Write([]byte(ev.body))
	})
	mux.HandleFunc("/2018-06-01/runtime/invocation/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		id := extractID(r.URL.Path)
		fu.mu.Lock()
		if strings.HasSuffix(r.URL.Path, "/response") {
			fu.responses = append(fu.responses, recordedPost{id: id, body: string(body)})
		} else {
			fu.errors = append(fu.errors, recordedPost{id: id, body: string(body)})
		}
		fu.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	fu.server = httptest.NewServer(mux)
	t.Cleanup(fu.server.Close)
	return fu
}

func extractID(path string) string {
	trimmed := strings.TrimPrefix(path, "/2018-06-01/runtime/invocation/")
	parts := strings.Split(trimmed, "/")
	return parts[0]
}

func (fu *fakeUpstream) queue(ev queuedEvent) {
	fu.mu.Lock()
	defer fu.mu.Unlock()
	fu.events = append(fu.events, ev)
}

func (fu *fakeUpstream) authority() string {
	return strings.TrimPrefix(fu.server.URL, "http://")
}

func newOrchestrator(t *testing.T, fu *fakeUpstream, cfg flags.FlagConfig) (*Orchestrator, string) {
	t.Helper()
	scratch := t.TempDir()
	client := upstream.New(fu.authority())
	o := New(client, staticConfig{cfg: cfg}, scratch, false, discardLogger())
	return o, scratch
}

func TestPassthroughWhenNoConfig(t *testing.T) {
	fu := newFakeUpstream(t)
	fu.queue(queuedEvent{requestID: "req-1", deadlineMs: time.Now().Add(time.Minute).UnixMilli(), body: `{"k":"v"}`})
	o, _ := newOrchestrator(t, fu, flags.FlagConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2018-06-01/runtime/invocation/next", nil)
	o.HandleNext(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"k":"v"}`, rec.Body.String())
}

func TestScenarioLatencyInjection(t *testing.T) {
	fu := newFakeUpstream(t)
	fu.queue(queuedEvent{requestID: "req-1", deadlineMs: time.Now().Add(time.Minute).UnixMilli(), body: `{"k":"v"}`})

	min, max, pct := 10.0, 10.0, 100
	cfg := flags.FlagConfig{"latency": {Enabled: true, Percentage: &pct, MinLatency: &min, MaxLatency: &max}}
	o, _ := newOrchestrator(t, fu, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2018-06-01/runtime/invocation/next", nil)

	start := time.Now()
	o.HandleNext(rec, req)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"k":"v"}`, rec.Body.String())
}

func TestScenarioExceptionShortCircuit(t *testing.T) {
	fu := newFakeUpstream(t)
	fu.queue(queuedEvent{requestID: "req-1", deadlineMs: time.Now().Add(time.Minute).UnixMilli(), body: `{"first":true}`})
	fu.queue(queuedEvent{requestID: "req-2", deadlineMs: time.Now().Add(time.Minute).UnixMilli(), body: `{"second":true}`})

	pct := 100
	msg := "boom"
	// Target only the first event, so the loop short-circuits it and returns the second.
	onlyFirst := []flags.MatchCondition{{Path: "first", Operator: "exists"}}
	cfg := flags.FlagConfig{"exception": {Enabled: true, Percentage: &pct, ExceptionMsg: &msg, MatchConditions: onlyFirst}}
	o, _ := newOrchestrator(t, fu, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2018-06-01/runtime/invocation/next", nil)
	o.HandleNext(rec, req)

	require.Len(t, fu.errors, 1)
	assert.Equal(t, "req-1", fu.errors[0].id)
	assert.JSONEq(t, `{"errorMessage":"boom","errorType":"FailureLambdaException"}`, fu.errors[0].body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"second":true}`, rec.Body.String())
}

func TestScenarioStatusCodeShortCircuit(t *testing.T) {
	fu := newFakeUpstream(t)
	fu.queue(queuedEvent{requestID: "req-1", deadlineMs: time.Now().Add(time.Minute).UnixMilli(), body: `{"first":true}`})
	fu.queue(queuedEvent{requestID: "req-2", deadlineMs: time.Now().Add(time.Minute).UnixMilli(), body: `{"second":true}`})

	code := 503
	// Target only the first event, so the loop short-circuits it and returns the second.
	onlyFirst := []flags.MatchCondition{{Path: "first", Operator: "exists"}}
	cfg := flags.FlagConfig{"statuscode": {Enabled: true, StatusCode: &code, MatchConditions: onlyFirst}}
	o, _ := newOrchestrator(t, fu, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2018-06-01/runtime/invocation/next", nil)
	o.HandleNext(rec, req)

	require.Len(t, fu.responses, 1)
	assert.Equal(t, "req-1", fu.responses[0].id)
	assert.JSONEq(t, `{"statusCode":503,"headers":{"Content-Type":"application/json"},"body":"{\"message\":\"Injected status code 503\"}"}`, fu.responses[0].body)

	assert.JSONEq(t, `{"second":true}`, rec.Body.String())
}

func TestScenarioMatchConditionSkipsFailure(t *testing.T) {
	fu := newFakeUpstream(t)
	fu.queue(queuedEvent{
		requestID:  "req-1",
		deadlineMs: time.Now().Add(time.Minute).UnixMilli(),
		body:       `{"requestContext":{"http":{"method":"GET"}}}`,
	})

	min, max, pct := 100.0, 100.0, 100
	value := "POST"
	cfg := flags.FlagConfig{"latency": {
		Enabled: true, Percentage: &pct, MinLatency: &min, MaxLatency: &max,
		MatchConditions: []flags.MatchCondition{{Path: "requestContext.http.method", Operator: "eq", Value: &value}},
	}}
	o, _ := newOrchestrator(t, fu, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2018-06-01/runtime/invocation/next", nil)

	start := time.Now()
	o.HandleNext(rec, req)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 50*time.Millisecond, "no latency should have been injected")
}

func TestScenarioCorruptionAppliedOnResponse(t *testing.T) {
	fu := newFakeUpstream(t)
	fu.queue(queuedEvent{requestID: "req-1", deadlineMs: time.Now().Add(time.Minute).UnixMilli(), body: `{"k":"v"}`})

	pct := 100
	cfg := flags.FlagConfig{"corruption": {Enabled: true, Percentage: &pct}}
	o, _ := newOrchestrator(t, fu, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2018-06-01/runtime/invocation/next", nil)
	o.HandleNext(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	respRec := httptest.NewRecorder()
	responseBody := `{"statusCode":200,"body":"hello world this is a test"}`
	respReq := httptest.NewRequest(http.MethodPost, "/2018-06-01/runtime/invocation/req-1/response", strings.NewReader(responseBody))
	respReq = muxSetVars(respReq, map[string]string{"id": "req-1"})
	o.HandleResponse(respRec, respReq)

	require.Len(t, fu.responses, 1)
	assert.Contains(t, fu.responses[0].body, "���")
}

func TestFinishSuccessRemovesInvocationState(t *testing.T) {
	fu := newFakeUpstream(t)
	fu.queue(queuedEvent{requestID: "req-1", deadlineMs: time.Now().Add(time.Minute).UnixMilli(), body: `{"k":"v"}`})

	pct := 100
	cfg := flags.FlagConfig{"corruption": {Enabled: true, Percentage: &pct}}
	o, _ := newOrchestrator(t, fu, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2018-06-01/runtime/invocation/next", nil)
	o.HandleNext(rec, req)

	_, had := o.invocations.entries["req-1"]
	require.True(t, had, "state should have been stored after begin-invocation")

	respRec := httptest.NewRecorder()
	respReq := httptest.NewRequest(http.MethodPost, "/2018-06-01/runtime/invocation/req-1/response", strings.NewReader(`{}`))
	respReq = muxSetVars(respReq, map[string]string{"id": "req-1"})
	o.HandleResponse(respRec, respReq)

	_, had = o.invocations.entries["req-1"]
	assert.False(t, had, "state must not remain after finish-success")
}

func TestBeginInvocationClearsDiskspaceBeforeRespondingToRuntime(t *testing.T) {
	fu := newFakeUpstream(t)
	fu.queue(queuedEvent{requestID: "req-1", deadlineMs: time.Now().Add(time.Minute).UnixMilli(), body: `{}`})
	o, scratch := newOrchestrator(t, fu, flags.FlagConfig{})

	require.NoError(t, os.WriteFile(filepath.Join(scratch, "diskspace-failure-123-abcdef.tmp"), []byte("x"), 0o600))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2018-06-01/runtime/invocation/next", nil)
	o.HandleNext(rec, req)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "diskspace-failure-")
	}
}

func TestDenylistRemovedAfterShortCircuit(t *testing.T) {
	fu := newFakeUpstream(t)
	fu.queue(queuedEvent{requestID: "req-1", deadlineMs: time.Now().Add(time.Minute).UnixMilli(), body: `{"first":true}`})
	fu.queue(queuedEvent{requestID: "req-2", deadlineMs: time.Now().Add(time.Minute).UnixMilli(), body: `{"second":true}`})

	code := 500
	// Target only the first event, so the loop short-circuits it and returns the second.
	onlyFirst := []flags.MatchCondition{{Path: "first", Operator: "exists"}}
	cfg := flags.FlagConfig{
		"denylist":   {Enabled: true, DenyList: []string{"evil\\.example\\.com"}, MatchConditions: onlyFirst},
		"statuscode": {Enabled: true, StatusCode: &code, MatchConditions: onlyFirst},
	}
	o, scratch := newOrchestrator(t, fu, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/2018-06-01/runtime/invocation/next", nil)
	o.HandleNext(rec, req)

	_, err := os.Stat(filepath.Join(scratch, ".failure-lambda-denylist"))
	assert.True(t, os.IsNotExist(err), "denylist file must be removed before the next event reaches the runtime")
}
