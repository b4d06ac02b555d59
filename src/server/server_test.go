package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"graphdoctor/src/broker"
	"graphdoctor/src/capture"
	"graphdoctor/src/compose"
	"graphdoctor/src/config"
	"graphdoctor/src/contracts"
	"graphdoctor/src/dispatch"
	"graphdoctor/src/envinfo"
	"graphdoctor/src/history"
	"graphdoctor/src/logger"
	"graphdoctor/src/metrics"
	"graphdoctor/src/patterns"
	"graphdoctor/src/pipeline"
	"graphdoctor/src/sanitize"
	"graphdoctor/src/service"
)

// newTestServer builds the full stack. providerURL may be empty for a server
// with no dispatcher.
func newTestServer(t *testing.T, providerURL string) (*Server, *history.Ring) {
	t.Helper()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	log := logger.NewSilentLogger()
	ring := history.NewRing(20)
	classifier := patterns.NewClassifier(patterns.DefaultRegistry())
	queue := capture.NewQueue(16)
	events := broker.NewEvents(broker.NewInMemoryEmitter(), log)
	pipe := pipeline.New(queue, classifier, ring, nil, events, m, log, "en")
	composer := compose.New(envinfo.EnvInfo{OS: "linux", Arch: "amd64", GoVersion: "go1.24", AppVersion: "test"})

	var dispatcher *dispatch.Dispatcher
	if providerURL != "" {
		cfg := config.Default()
		cfg.ProviderBaseURL = providerURL
		cfg.ProviderAPIKey = "test-key"
		cfg.Model = "test-model"
		cfg.EndpointIsLocal = true
		cfg.RequestsPerMinute = 6000
		var err error
		dispatcher, err = dispatch.New(cfg, log, m)
		if err != nil {
			t.Fatalf("dispatch.New: %v", err)
		}
	}

	svc := service.New(ring, nil, pipe, dispatcher, composer, classifier, queue, m, log,
		sanitize.ModeBasic, "en", compose.LocalProfile(10))
	return New(svc, registry, log, "127.0.0.1:0"), ring
}

func seedEntry(t *testing.T, ring *history.Ring, ts time.Time) {
	t.Helper()
	err := ring.Append(contracts.HistoryEntry{
		SchemaVersion:  contracts.SchemaVersion,
		Report:         contracts.ErrorReport{RawText: "RuntimeError: boom", Complete: true},
		Classification: contracts.Classification{Category: "memory", Matched: true},
		Timestamp:      ts,
		Resolution:     contracts.StatusUnresolved,
	})
	if err != nil {
		t.Fatalf("seeding ring: %v", err)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv, ring := newTestServer(t, "")
	seedEntry(t, ring, time.Now())

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=5", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Entries []contracts.HistoryEntry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Classification.Category != "memory" {
		t.Errorf("unexpected entries: %+v", resp.Entries)
	}
}

func TestHistoryEndpoint_BadLimit(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=nope", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHistoryStatusEndpoint(t *testing.T) {
	srv, ring := newTestServer(t, "")
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seedEntry(t, ring, ts)

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/history/status", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		srv.Handler().ServeHTTP(w, req)
		return w
	}

	w := post(fmt.Sprintf(`{"timestamp":%q,"status":"resolved"}`, ts.Format(time.RFC3339)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := ring.Entries()[0].Resolution; got != contracts.StatusResolved {
		t.Errorf("status not applied, got %q", got)
	}

	w = post(`{"timestamp":"2030-01-01T00:00:00Z","status":"resolved"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown timestamp, got %d", w.Code)
	}

	w = post(fmt.Sprintf(`{"timestamp":%q,"status":"fixed"}`, ts.Format(time.RFC3339)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid status, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var health service.Health
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if health.PipelineStatus != contracts.PipelineOK {
		t.Errorf("expected ok pipeline, got %q", health.PipelineStatus)
	}
}

func TestAnalyzeEndpoint_LocalOnly(t *testing.T) {
	srv, _ := newTestServer(t, "")
	body := `{"text":"torch.cuda.OutOfMemoryError: CUDA out of memory"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result service.Analysis
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding analysis: %v", err)
	}
	if result.Classification.Category != "memory" {
		t.Errorf("expected memory classification, got %+v", result.Classification)
	}
	if result.RequestID == "" {
		t.Error("expected a request id")
	}
}

func TestAnalyzeEndpoint_EscalateWithoutProvider(t *testing.T) {
	srv, _ := newTestServer(t, "")
	body := `{"text":"RuntimeError: x","escalate":true}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with no provider, got %d", w.Code)
	}
}

func TestChatEndpoint_StreamsDeltasAndDone(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, delta := range []string{"lower ", "the ", "batch size"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer provider.Close()

	srv, _ := newTestServer(t, provider.URL)
	w := httptest.NewRecorder()
	body := `{"messages":[
		{"role":"user","content":"my workflow crashes"},
		{"role":"assistant","content":"what does the console say?"},
		{"role":"user","content":"CUDA out of memory"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)

	got := w.Body.String()
	if !strings.Contains(got, `"delta":"lower "`) {
		t.Errorf("missing first delta in stream: %s", got)
	}
	if !strings.Contains(got, `"done":true`) {
		t.Errorf("stream must end with done chunk: %s", got)
	}
}

func TestChatEndpoint_RequiresMessages(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"messages":[]}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty conversation, got %d", w.Code)
	}
}

func TestChatEndpoint_ErrorSurfacesAsChunk(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer provider.Close()

	srv, _ := newTestServer(t, provider.URL)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"messages":[{"role":"user","content":"boom"}]}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `"error"`) {
		t.Errorf("expected error chunk, got: %s", body)
	}
	if strings.Contains(body, `"done":true`) {
		t.Errorf("failed stream must not claim completion: %s", body)
	}
}

func TestModelsEndpoint(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"id":"llama3"},{"id":"qwen2"}]}`)
	}))
	defer provider.Close()

	srv, _ := newTestServer(t, provider.URL)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/models", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "llama3") {
		t.Errorf("missing model id: %s", w.Body.String())
	}
}

func TestVerifyEndpoint_CandidateCredentials(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"id":"llama3"}]}`)
	}))
	defer provider.Close()

	// No configured dispatcher; the candidate in the body is probed instead.
	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	body := fmt.Sprintf(`{"base_url":%q,"api_key":"candidate-key","is_local":true}`, provider.URL)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"success":true`) {
		t.Errorf("expected success, got: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"is_local":true`) {
		t.Errorf("expected is_local echoed, got: %s", w.Body.String())
	}
}

func TestVerifyEndpoint_BlocksDeniedCandidate(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	body := `{"base_url":"http://127.0.0.1:9","api_key":"k","is_local":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for loopback candidate, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerifyEndpoint_NoProviderNoCandidate(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/verify", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with nothing to probe, got %d", w.Code)
	}
}

func TestModelsEndpoint_CandidateCredentials(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer candidate-key" {
			http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"id":"qwen2"}]}`)
	}))
	defer provider.Close()

	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	body := fmt.Sprintf(`{"base_url":%q,"api_key":"candidate-key","is_local":true}`, provider.URL)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/models", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "qwen2") {
		t.Errorf("missing candidate model id: %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "graphdoctor_dropped_messages_total") {
		t.Errorf("expected graphdoctor metrics in exposition:\n%s", w.Body.String())
	}
}
