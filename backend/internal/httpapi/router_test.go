package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/internal/extraction"
	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/metrics"
	"kgraph/backend/internal/pipeline"
	"kgraph/backend/internal/query"
)

const rodeoPayload = `{
	"mainTopics": ["Rodeo"],
	"subtopics": ["horseback riding"],
	"entities": [],
	"relations": [],
	"sentiment": "positive",
	"contextType": "experienced_in"
}`

const emptyPayload = `{
	"mainTopics": [],
	"subtopics": [],
	"entities": [],
	"relations": [],
	"sentiment": "neutral",
	"contextType": "neutral"
}`

func newTestRouter(t *testing.T, payload string, m *metrics.Collector) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ext, err := extraction.NewStatic(payload)
	require.NoError(t, err)

	store := graph.NewMemoryGraph()
	orch := pipeline.NewOrchestrator(pipeline.NewSteps(ext, store), pipeline.NewMemoryCheckpoints(), nil, m)
	return NewRouter(Options{
		Runner:       orch,
		Engine:       query.NewEngine(store, m),
		Metrics:      m,
		GraphBackend: "memory",
	})
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, rodeoPayload, nil)

	w := do(router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["graphBackend"])
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(Options{GraphBackend: "memory", Degraded: true})

	w := do(router, http.MethodGet, "/health", "")

	assert.Equal(t, "degraded", decode(t, w)["status"])
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t, rodeoPayload, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodOptions, "/api/users/u1/texts", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(Options{GraphBackend: "memory", AllowedOrigins: []string{"https://app.example.com"}})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubmitText(t *testing.T) {
	router := newTestRouter(t, rodeoPayload, nil)

	w := do(router, http.MethodPost, "/api/users/u1/texts", `{"text": "I went to a rodeo last weekend"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.NotEmpty(t, body["runId"])
	assert.Equal(t, "u1", body["userId"])
	assert.Equal(t, float64(2), body["nodesCreated"])
	assert.Equal(t, float64(1), body["edgesCreated"])

	run := do(router, http.MethodGet, "/api/runs/"+body["runId"].(string), "")
	require.Equal(t, http.StatusOK, run.Code)
	state := decode(t, run)
	assert.Equal(t, "succeeded", state["status"])
	assert.Equal(t, "done", state["step"])
}

func TestSubmitText_HTML(t *testing.T) {
	router := newTestRouter(t, rodeoPayload, nil)

	w := do(router, http.MethodPost, "/api/users/u1/texts",
		`{"text": "<html><body><p>Rodeo season</p></body></html>", "format": "html"}`)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSubmitText_BadRequests(t *testing.T) {
	router := newTestRouter(t, rodeoPayload, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing text", `{}`},
		{"not json", `text=hello`},
		{"blank text", `{"text": "   "}`},
		{"unknown format", `{"text": "hello", "format": "pdf"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/users/u1/texts", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			body := decode(t, w)
			assert.Equal(t, "InvalidInput", body["errorKind"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSubmitText_EmptyExtraction(t *testing.T) {
	router := newTestRouter(t, emptyPayload, nil)

	w := do(router, http.MethodPost, "/api/users/u1/texts", `{"text": "hmm"}`)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "EmptyExtraction", body["errorKind"])
	assert.Equal(t, "validate", body["step"])
	assert.Equal(t, "failed", body["status"])
	assert.NotEmpty(t, body["runId"])
}

func TestSubmitText_DuplicateTextID(t *testing.T) {
	router := newTestRouter(t, rodeoPayload, nil)
	body := `{"text": "rodeo", "textId": "t-1"}`

	first := do(router, http.MethodPost, "/api/users/u1/texts", body)
	require.Equal(t, http.StatusOK, first.Code)

	second := do(router, http.MethodPost, "/api/users/u1/texts", body)
	assert.Equal(t, http.StatusConflict, second.Code)
	failure := decode(t, second)
	assert.Equal(t, "DuplicateId", failure["errorKind"])
	assert.Equal(t, "validate", failure["step"])

	other := do(router, http.MethodPost, "/api/users/u2/texts", body)
	assert.Equal(t, http.StatusOK, other.Code, other.Body.String())
}

func TestRuns_NotFound(t *testing.T) {
	router := newTestRouter(t, rodeoPayload, nil)

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/runs/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/api/runs/missing/resume", "").Code)
}

func TestResumeRun_ReturnsRecordedOutcome(t *testing.T) {
	router := newTestRouter(t, rodeoPayload, nil)

	w := do(router, http.MethodPost, "/api/users/u1/texts", `{"text": "rodeo"}`)
	require.Equal(t, http.StatusOK, w.Code)
	runID := decode(t, w)["runId"].(string)

	resumed := do(router, http.MethodPost, "/api/runs/"+runID+"/resume", "")
	require.Equal(t, http.StatusOK, resumed.Code)
	assert.Equal(t, runID, decode(t, resumed)["runId"])
}

func TestQuery(t *testing.T) {
	router := newTestRouter(t, rodeoPayload, nil)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/users/u1/texts", `{"text": "rodeo"}`).Code)

	w := do(router, http.MethodPost, "/api/users/u1/query", `{"queryType": "related_topics", "params": {"topic": "Rodeo"}}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "related_topics", body["queryType"])
	related := body["data"].([]interface{})
	require.Len(t, related, 1)
	assert.Equal(t, "horseback riding", related[0].(map[string]interface{})["topic"])
}

func TestQuery_ErrorsAreResults(t *testing.T) {
	router := newTestRouter(t, rodeoPayload, nil)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"unknown type", `{"queryType": "everything"}`, "Unknown query type: everything"},
		{"missing param", `{"queryType": "topic_path", "params": {"from": "rodeo"}}`, "Missing required parameter: to"},
		{"unknown topic", `{"queryType": "related_topics", "params": {"topic": "chess"}}`, "Topic not found: chess"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/users/u1/query", tt.body)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.message, decode(t, w)["error"])
		})
	}
}

func TestQuery_MalformedBody(t *testing.T) {
	router := newTestRouter(t, rodeoPayload, nil)

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/users/u1/query", `{"params": {}}`).Code)
	w := do(router, http.MethodPost, "/api/users/u1/query", `[`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidInput", decode(t, w)["errorKind"])
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewCollector("kgraph")
	router := newTestRouter(t, rodeoPayload, m)

	do(router, http.MethodGet, "/health", "")
	do(router, http.MethodGet, "/api/runs/r-1", "")
	w := do(router, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, `kgraph_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, out, `route="/api/runs/:runId",status="404"`)
}
