package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"

	"datachat/internal/auth"
	"datachat/internal/dataset"
	"datachat/internal/metrics"
	"datachat/internal/service/ai"
	"datachat/internal/service/assistant"
	"datachat/internal/session"
)

const insuranceCSV = `age,sex,bmi,children,smoker,region,charges
19,female,27.9,0,yes,southwest,16884.924
18,male,33.77,1,no,southeast,1725.5523
28,male,33,3,no,southeast,4449.462
33,male,22.705,0,no,northwest,21984.47061
`

func TestIndexRendersPage(t *testing.T) {
	srv := newTestServer(t, insuranceCSV, &mockModel{answer: "unused"})
	cl := srv.client()

	resp := cl.do(t, http.MethodGet, "/", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	body := resp.Body.String()
	for _, want := range []string{"Health Insurance Analyzer", "Dataset loaded: 4 rows, 7 columns", "Ask about the health insurance data..."} {
		if !strings.Contains(body, want) {
			t.Fatalf("page missing %q", want)
		}
	}
	if cl.cookies["session_id"] == "" || cl.cookies["csrf_token"] == "" {
		t.Fatalf("expected session and csrf cookies, got %v", cl.cookies)
	}
	if !strings.Contains(body, cl.cookies["csrf_token"]) {
		t.Fatalf("csrf token not embedded in forms")
	}
}

func TestChatWithoutKeyStoresPlaceholder(t *testing.T) {
	srv := newTestServer(t, insuranceCSV, &mockModel{answer: "unused"})
	cl := srv.client()
	cl.do(t, http.MethodGet, "/", nil, nil)

	resp := cl.postForm(t, "/chat", url.Values{"question": {"What is the average charge?"}})
	assertStatus(t, resp, http.StatusSeeOther)
	if srv.model.calls != 0 {
		t.Fatalf("model must not be called without a key")
	}

	entries := cl.transcript(t)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Role != "user" || entries[0].Content != "What is the average charge?" {
		t.Fatalf("unexpected user entry %+v", entries[0])
	}
	if entries[1].Role != "assistant" || entries[1].Content != "Please enter your API key in the sidebar." {
		t.Fatalf("unexpected placeholder %+v", entries[1])
	}
}

func TestChatRequiresCSRF(t *testing.T) {
	srv := newTestServer(t, insuranceCSV, &mockModel{})
	cl := srv.client()
	cl.do(t, http.MethodGet, "/", nil, nil)

	form := url.Values{"question": {"hi"}, "csrf_token": {"forged"}}
	resp := cl.do(t, http.MethodPost, "/chat", strings.NewReader(form.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
	assertStatus(t, resp, http.StatusForbidden)
	if n := len(cl.transcript(t)); n != 0 {
		t.Fatalf("forged post must not change state, got %d entries", n)
	}
}

func TestSettingsKeyAndToggles(t *testing.T) {
	srv := newTestServer(t, insuranceCSV, &mockModel{answer: "Smokers pay **more**."})
	cl := srv.client()
	cl.do(t, http.MethodGet, "/", nil, nil)

	resp := cl.postForm(t, "/settings", url.Values{
		"api_key":           {"sk-test"},
		"show_summary":      {"true"},
		"show_correlations": {"true"},
	})
	assertStatus(t, resp, http.StatusSeeOther)
	if cl.cookies["api_key"] == "" || strings.Contains(cl.cookies["api_key"], "sk-test") {
		t.Fatalf("expected sealed api key cookie, got %q", cl.cookies["api_key"])
	}

	page := cl.do(t, http.MethodGet, "/", nil, nil)
	assertStatus(t, page, http.StatusOK)
	body := page.Body.String()
	for _, want := range []string{"Data Summary", "Correlation Heatmap", "75%", "1.00"} {
		if !strings.Contains(body, want) {
			t.Fatalf("page missing %q", want)
		}
	}

	resp = cl.postForm(t, "/chat", url.Values{"question": {"Do smokers pay more?"}})
	assertStatus(t, resp, http.StatusSeeOther)
	if srv.model.calls != 1 || srv.model.lastKey != "sk-test" {
		t.Fatalf("expected one model call with stored key, got %d %q", srv.model.calls, srv.model.lastKey)
	}
	if !strings.Contains(srv.model.lastPrompt, "- Shape: (4, 7)") {
		t.Fatalf("prompt missing dataset context: %s", srv.model.lastPrompt)
	}
	page = cl.do(t, http.MethodGet, "/", nil, nil)
	if !strings.Contains(page.Body.String(), "<strong>more</strong>") {
		t.Fatalf("assistant markdown not rendered")
	}

	resp = cl.postForm(t, "/settings", url.Values{"clear_api_key": {"true"}})
	assertStatus(t, resp, http.StatusSeeOther)
	if cl.cookies["api_key"] != "" {
		t.Fatalf("expected api key cookie cleared")
	}
}

func TestChatAnalysisErrorRendersBadGateway(t *testing.T) {
	srv := newTestServer(t, insuranceCSV, &mockModel{err: errors.New("mock failure")})
	cl := srv.client()
	cl.do(t, http.MethodGet, "/", nil, nil)
	cl.postForm(t, "/settings", url.Values{"api_key": {"sk-bad"}})

	resp := cl.postForm(t, "/chat", url.Values{"question": {"q"}})
	assertStatus(t, resp, http.StatusBadGateway)
	if strings.Contains(resp.Body.String(), "mock failure") {
		t.Fatalf("provider error must not leak to the page")
	}
	entries := cl.transcript(t)
	if len(entries) != 1 || entries[0].Role != "user" {
		t.Fatalf("expected only the user entry, got %+v", entries)
	}
}

func TestCaptureInputSSE(t *testing.T) {
	srv := newTestServer(t, insuranceCSV, &mockModel{chunks: []string{"Average ", "is 11261."}})
	cl := srv.client()
	cl.do(t, http.MethodGet, "/", nil, nil)

	resp := cl.postJSON(t, "/api/chat", map[string]string{"question": "Average charge?"}, map[string]string{"X-API-Key": "sk-h"})
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 4 {
		t.Fatalf("expected 4 SSE events, got %d: %#v", len(events), events)
	}
	if events[0].Name != "ack" || events[1].Name != "stream" || events[2].Name != "stream" || events[3].Name != "done" {
		t.Fatalf("unexpected SSE sequence: %#v", events)
	}
	var done struct {
		AI struct {
			Content string `json:"content"`
		} `json:"ai_message"`
	}
	decodeJSON(t, []byte(events[3].Data), &done)
	if done.AI.Content != "Average is 11261." {
		t.Fatalf("unexpected answer %q", done.AI.Content)
	}
	if n := len(cl.transcript(t)); n != 2 {
		t.Fatalf("expected 2 stored entries, got %d", n)
	}
}

func TestCaptureInputSSEError(t *testing.T) {
	srv := newTestServer(t, insuranceCSV, &mockModel{err: errors.New("mock failure")})
	cl := srv.client()
	cl.do(t, http.MethodGet, "/", nil, nil)

	resp := cl.postJSON(t, "/api/chat", map[string]string{"question": "q"}, map[string]string{"X-API-Key": "k"})
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 2 || events[0].Name != "ack" || events[1].Name != "error" {
		t.Fatalf("unexpected SSE sequence: %#v", events)
	}
	if strings.Contains(events[1].Data, "mock failure") {
		t.Fatalf("provider error leaked: %s", events[1].Data)
	}
}

func TestCaptureInputValidation(t *testing.T) {
	srv := newTestServer(t, insuranceCSV, &mockModel{})
	cl := srv.client()
	cl.do(t, http.MethodGet, "/", nil, nil)

	resp := cl.postJSON(t, "/api/chat", map[string]string{"question": "  "}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = cl.do(t, http.MethodPost, "/api/chat", strings.NewReader("{"), map[string]string{
		"Content-Type": "application/json",
		"X-CSRF-Token": cl.cookies["csrf_token"],
	})
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestResetSessionDropsState(t *testing.T) {
	srv := newTestServer(t, insuranceCSV, &mockModel{})
	cl := srv.client()
	cl.do(t, http.MethodGet, "/", nil, nil)
	cl.postForm(t, "/chat", url.Values{"question": {"hi"}})
	oldID := cl.cookies["session_id"]

	resp := cl.postForm(t, "/session/reset", nil)
	assertStatus(t, resp, http.StatusSeeOther)
	if cl.cookies["session_id"] == oldID {
		t.Fatalf("expected a new session id")
	}
	if _, err := srv.store.Load(context.Background(), oldID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("old session state must be deleted, got %v", err)
	}
	if n := len(cl.transcript(t)); n != 0 {
		t.Fatalf("expected empty transcript after reset, got %d", n)
	}
}

func TestDatasetEndpoints(t *testing.T) {
	srv := newTestServer(t, insuranceCSV, &mockModel{})
	cl := srv.client()

	resp := cl.do(t, http.MethodGet, "/api/dataset", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var info struct {
		Rows    int `json:"rows"`
		Columns []struct {
			Name  string `json:"name"`
			Dtype string `json:"dtype"`
		} `json:"columns"`
	}
	decodeJSON(t, resp.Body.Bytes(), &info)
	if info.Rows != 4 || len(info.Columns) != 7 || info.Columns[0].Dtype != "int64" || info.Columns[1].Dtype != "object" {
		t.Fatalf("unexpected dataset info %+v", info)
	}

	resp = cl.do(t, http.MethodGet, "/api/dataset/summary", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var summary dataset.Summary
	decodeJSON(t, resp.Body.Bytes(), &summary)
	if len(summary.Columns) != 4 || summary.Rows[0].Stat != "count" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	resp = cl.do(t, http.MethodGet, "/api/dataset/correlations", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var corr struct {
		Columns []string   `json:"columns"`
		Values  [][]string `json:"values"`
	}
	decodeJSON(t, resp.Body.Bytes(), &corr)
	if len(corr.Columns) != 4 || corr.Values[0][0] != "1.00" {
		t.Fatalf("unexpected correlations %+v", corr)
	}
}

func TestCorrelationsWithoutNumericColumns(t *testing.T) {
	srv := newTestServer(t, "sex,region\nmale,north\n", &mockModel{})
	resp := srv.client().do(t, http.MethodGet, "/api/dataset/correlations", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Message string `json:"message"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Message != "No numeric columns found for correlation." {
		t.Fatalf("unexpected fallback %q", body.Message)
	}
}

func TestMissingDatasetFails(t *testing.T) {
	srv := newTestServer(t, "", &mockModel{})
	cl := srv.client()

	resp := cl.do(t, http.MethodGet, "/", nil, nil)
	assertStatus(t, resp, http.StatusInternalServerError)
	resp = cl.do(t, http.MethodGet, "/api/dataset", nil, nil)
	assertStatus(t, resp, http.StatusInternalServerError)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, insuranceCSV, &mockModel{})
	cl := srv.client()
	resp := cl.do(t, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, resp, http.StatusOK)

	cl.do(t, http.MethodGet, "/", nil, nil)
	cl.postForm(t, "/chat", url.Values{"question": {"hi"}})
	resp = cl.do(t, http.MethodGet, "/metrics", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), `datachat_questions_total{outcome="no_key"} 1`) {
		t.Fatalf("metrics missing question counter")
	}
	if !strings.Contains(resp.Body.String(), `datachat_dataset_loads_total{outcome="ok"} 1`) {
		t.Fatalf("metrics missing dataset load counter")
	}
}

// mockModel stands in for a provider chat model.
type mockModel struct {
	answer     string
	chunks     []string
	err        error
	calls      int
	lastKey    string
	lastPrompt string
}

func (m *mockModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls++
	m.lastPrompt = input[len(input)-1].Content
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.answer, nil), nil
}

func (m *mockModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.calls++
	m.lastPrompt = input[len(input)-1].Content
	if m.err != nil {
		return nil, m.err
	}
	msgs := make([]*schema.Message, len(m.chunks))
	for i, c := range m.chunks {
		msgs[i] = schema.AssistantMessage(c, nil)
	}
	return schema.StreamReaderFromArray(msgs), nil
}

type testServer struct {
	router *gin.Engine
	store  *session.MemoryStore
	model  *mockModel
}

// newTestServer wires the real stack around a temporary dataset; an empty
// csv leaves the dataset file missing.
func newTestServer(t *testing.T, csv string, mm *mockModel) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "insurance.csv")
	if csv != "" {
		if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
			t.Fatalf("write dataset: %v", err)
		}
	}
	m := metrics.New()
	loader := dataset.NewLoader(path, dataset.WithObserver(m.ObserveDatasetLoad))
	analyst, err := ai.NewService(ai.Options{}, ai.WithFactory(func(_ context.Context, spec ai.ModelSpec) (model.BaseChatModel, error) {
		mm.lastKey = spec.APIKey
		return mm, nil
	}))
	if err != nil {
		t.Fatalf("ai service: %v", err)
	}
	authSvc, err := auth.NewService(auth.Options{})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	store := session.NewMemoryStore()
	asst := assistant.NewService(loader, analyst, assistant.WithMetrics(m))
	handler := NewHandler(asst, authSvc, session.NewManager(store), m, nil)

	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, store: store, model: mm}
}

// testClient carries cookies between requests like a browser.
type testClient struct {
	router  *gin.Engine
	cookies map[string]string
}

func (s *testServer) client() *testClient {
	return &testClient{router: s.router, cookies: map[string]string{}}
}

func (cl *testClient) do(t *testing.T, method, path string, body *strings.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for name, value := range cl.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	rec := httptest.NewRecorder()
	cl.router.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(cl.cookies, ck.Name)
			continue
		}
		cl.cookies[ck.Name] = ck.Value
	}
	return rec
}

func (cl *testClient) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", cl.cookies["csrf_token"])
	return cl.do(t, http.MethodPost, path, strings.NewReader(form.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
}

func (cl *testClient) postJSON(t *testing.T, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	h := map[string]string{"Content-Type": "application/json", "X-CSRF-Token": cl.cookies["csrf_token"]}
	for k, v := range headers {
		h[k] = v
	}
	return cl.do(t, http.MethodPost, path, strings.NewReader(buf.String()), h)
}

type transcriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (cl *testClient) transcript(t *testing.T) []transcriptEntry {
	t.Helper()
	resp := cl.do(t, http.MethodGet, "/api/transcript", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Entries []transcriptEntry `json:"entries"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	return body.Entries
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
