package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/catalog"
	"github.com/samcharles93/aistudio/internal/chat"
	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/internal/metrics"
	"github.com/samcharles93/aistudio/internal/settings"
	"github.com/samcharles93/aistudio/pkg/modelfile"
)

const testTokenizerJSON = `{
	"model": {"type": "BPE", "vocab": {"<s>":0,"</s>":1,"H":2,"i":3,"!":4}, "merges": []},
	"added_tokens": [{"id":0,"content":"<s>","special":true},{"id":1,"content":"</s>","special":true}]
}`

type testExecutor struct{ steps int }

func (x *testExecutor) InputShape() []int64 { return []int64{1, 32} }

func (x *testExecutor) Step([]int64, int, int) (int, error) {
	script := []int{2, 3, 4, 1}
	id := script[x.steps%len(script)]
	x.steps++
	return id, nil
}

func (x *testExecutor) Close() error { return nil }

// testEngine offers only the CPU, so probes classify as PARTIAL_SUPPORT.
type testEngine struct{}

func (testEngine) Name() string            { return "test" }
func (testEngine) Has(k backend.Kind) bool { return k == backend.CPU }
func (testEngine) CPU([]byte, int) (backend.Executor, error) {
	return &testExecutor{}, nil
}
func (testEngine) GPU([]byte, int) (backend.Executor, error) {
	return nil, errors.New("no gpu")
}
func (testEngine) NPU([]byte, string) (backend.Executor, error) {
	return nil, errors.New("no npu")
}

type testServer struct {
	e       *echo.Echo
	catalog *catalog.Catalog
	dir     string
}

func onnxBytes() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 8)
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	return protowire.AppendBytes(b, make([]byte, 32))
}

func newTestServer(t *testing.T, probeBurst int) *testServer {
	t.Helper()
	dir := t.TempDir()
	m := metrics.New()
	files := modelfile.NewRegistry()
	loader := &inference.Loader{
		Selector: backend.NewSelector(testEngine{}, backend.Options{}, logger.Discard()),
		Files:    files,
		Observer: m,
		Log:      logger.Discard(),
	}
	cat, err := catalog.Open(catalog.Config{
		Dir:    filepath.Join(dir, "library"),
		Prober: loader,
		Files:  files,
		Log:    logger.Discard(),
	})
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	store, err := settings.Open(filepath.Join(dir, "settings.yaml"))
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	chats := chat.NewManager(chat.Config{Loader: loader, Settings: store, Log: logger.Discard()})
	t.Cleanup(func() {
		_ = chats.Close()
		_ = cat.Close()
	})

	server, err := NewServer(Config{
		Catalog:      cat,
		Settings:     store,
		Chats:        chats,
		Metrics:      m,
		Accelerators: backend.Available(testEngine{}),
		Accelerator:  backend.CPU,
		ProbeRate:    rate.Every(time.Hour),
		ProbeBurst:   probeBurst,
		Log:          logger.Discard(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	e := echo.New()
	server.Register(e)
	return &testServer{e: e, catalog: cat, dir: dir}
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[struct {
		Error ResponseError `json:"error"`
	}](t, rec)
	return body.Error.Type
}

// importModel uploads a model, waits for its probe and pairs a tokenizer.
func (s *testServer) importModel(t *testing.T) ModelResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/models?name=tiny.onnx", strings.NewReader(string(onnxBytes())))
	req.Header.Set(echo.HeaderContentType, echo.MIMEOctetStream)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("import status: got %d body=%s", rec.Code, rec.Body.String())
	}
	imported := decode[ModelResponse](t, rec)
	if imported.Compatibility != "CHECKING" || imported.Name != "tiny.onnx" {
		t.Fatalf("imported: %+v", imported)
	}

	done := make(chan struct{})
	timer := time.AfterFunc(5*time.Second, func() { close(done) })
	defer timer.Stop()
	if !s.catalog.WaitSettled(done) {
		t.Fatalf("probe did not finish")
	}

	tokPath := filepath.Join(s.dir, "tokenizer.json")
	if err := os.WriteFile(tokPath, []byte(testTokenizerJSON), 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}
	rec = doJSON(t, s.e, http.MethodPut, "/v1/models/"+imported.ID+"/tokenizer", `{"path":"`+tokPath+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("pair status: got %d body=%s", rec.Code, rec.Body.String())
	}
	return decode[ModelResponse](t, rec)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 4)
	rec := doJSON(t, s.e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"cpu"`) {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s.e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "aistudio_http_requests_total") {
		t.Fatalf("request metrics missing")
	}
}

func TestModelLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 4)
	m := s.importModel(t)
	if m.Compatibility != "PARTIAL_SUPPORT" || !m.HasTokenizer || !m.Selectable || m.Format != "onnx" {
		t.Fatalf("paired model: %+v", m)
	}

	rec := doJSON(t, s.e, http.MethodGet, "/v1/models", "")
	list := decode[ModelList](t, rec)
	if len(list.Data) != 1 || list.Data[0].ID != m.ID {
		t.Fatalf("list: %+v", list)
	}

	tokPath := filepath.Join(s.dir, "tokenizer.json")
	rec = doJSON(t, s.e, http.MethodPut, "/v1/models/"+m.ID+"/tokenizer", `{"path":"`+tokPath+`"}`)
	if rec.Code != http.StatusConflict || errorType(t, rec) != "conflict_error" {
		t.Fatalf("second pairing: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s.e, http.MethodDelete, "/v1/models/"+m.ID, "")
	if rec.Code != http.StatusOK || !decode[DeleteResponse](t, rec).Deleted {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, s.e, http.MethodGet, "/v1/models/"+m.ID, "")
	if rec.Code != http.StatusNotFound || errorType(t, rec) != "not_found_error" {
		t.Fatalf("get deleted: %d %s", rec.Code, rec.Body.String())
	}
}

func TestImportValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 4)
	rec := doJSON(t, s.e, http.MethodPost, "/v1/models", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing path: %d", rec.Code)
	}
	rec = doJSON(t, s.e, http.MethodPost, "/v1/models", `{"path":"/does/not/exist.onnx"}`)
	if rec.Code != http.StatusBadRequest || errorType(t, rec) != "invalid_request_error" {
		t.Fatalf("missing file: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, s.e, http.MethodPost, "/v1/models", `{"path":"x","bogus":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", rec.Code)
	}
}

func TestProbeRequestsAreRateLimited(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 2)
	m := s.importModel(t)
	rec := doJSON(t, s.e, http.MethodPost, "/v1/models/"+m.ID+"/probe", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("reprobe: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[ModelResponse](t, rec); got.Compatibility != "CHECKING" {
		t.Fatalf("reprobe status: %s", got.Compatibility)
	}
	rec = doJSON(t, s.e, http.MethodPost, "/v1/models/"+m.ID+"/probe", "")
	if rec.Code != http.StatusTooManyRequests || errorType(t, rec) != "rate_limit_error" {
		t.Fatalf("limited probe: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSettingsEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 4)
	rec := doJSON(t, s.e, http.MethodGet, "/v1/settings", "")
	got := decode[SettingsResponse](t, rec)
	if got.MaxNewTokens != 256 || got.TopK != 40 || !got.Greedy {
		t.Fatalf("defaults: %+v", got)
	}

	rec = doJSON(t, s.e, http.MethodPatch, "/v1/settings", `{"max_new_tokens":5000,"temperature":0.5}`)
	got = decode[SettingsResponse](t, rec)
	if rec.Code != http.StatusOK || got.MaxNewTokens != 1024 || got.Temperature != 0.5 || got.TopK != 40 {
		t.Fatalf("patch: %d %+v", rec.Code, got)
	}

	if rec = doJSON(t, s.e, http.MethodPatch, "/v1/settings", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty patch: %d", rec.Code)
	}
	if rec = doJSON(t, s.e, http.MethodPatch, "/v1/settings", `{"top_k":"many"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad patch: %d", rec.Code)
	}

	rec = doJSON(t, s.e, http.MethodDelete, "/v1/settings", "")
	if got = decode[SettingsResponse](t, rec); got.MaxNewTokens != 256 {
		t.Fatalf("reset: %+v", got)
	}
}

func TestChatMessage(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 4)
	m := s.importModel(t)

	rec := doJSON(t, s.e, http.MethodPost, "/v1/chats", `{"model_id":"`+m.ID+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create chat: %d %s", rec.Code, rec.Body.String())
	}
	created := decode[ChatResponse](t, rec)
	if created.Model == nil || created.Model.ID != m.ID {
		t.Fatalf("chat model: %+v", created)
	}

	rec = doJSON(t, s.e, http.MethodPost, "/v1/chats/"+created.ID+"/messages", `{"content":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("message: %d %s", rec.Code, rec.Body.String())
	}
	msg := decode[MessageResponse](t, rec)
	if msg.Content != "Hi!" || msg.State != "COMPLETED" || msg.Usage.CompletionTokens != 3 || msg.Accelerator != "cpu" {
		t.Fatalf("message response: %+v", msg)
	}

	rec = doJSON(t, s.e, http.MethodGet, "/v1/chats/"+created.ID, "")
	got := decode[ChatResponse](t, rec)
	if len(got.Messages) != 2 || got.Messages[1].Content != "Hi!" || got.Busy {
		t.Fatalf("transcript: %+v", got)
	}

	rec = doJSON(t, s.e, http.MethodPost, "/v1/chats/"+created.ID+"/stop", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("stop: %d", rec.Code)
	}
	rec = doJSON(t, s.e, http.MethodDelete, "/v1/chats/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete chat: %d", rec.Code)
	}
	rec = doJSON(t, s.e, http.MethodGet, "/v1/chats/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted chat: %d", rec.Code)
	}
}

func TestChatMessageStream(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 4)
	m := s.importModel(t)
	created := decode[ChatResponse](t, doJSON(t, s.e, http.MethodPost, "/v1/chats", `{"model_id":"`+m.ID+`"}`))

	rec := doJSON(t, s.e, http.MethodPost, "/v1/chats/"+created.ID+"/messages", `{"content":"hello","stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status: %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}

	var (
		deltas []string
		done   *MessageResponse
	)
	for _, block := range strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n") {
		event, data, ok := strings.Cut(block, "\n")
		if !ok {
			t.Fatalf("malformed event %q", block)
		}
		data = strings.TrimPrefix(data, "data: ")
		switch event {
		case "event: fragment":
			var f FragmentEvent
			if err := json.Unmarshal([]byte(data), &f); err != nil {
				t.Fatalf("fragment: %v", err)
			}
			deltas = append(deltas, f.Delta)
		case "event: done":
			done = &MessageResponse{}
			if err := json.Unmarshal([]byte(data), done); err != nil {
				t.Fatalf("done: %v", err)
			}
		default:
			t.Fatalf("unexpected event %q", event)
		}
	}
	if strings.Join(deltas, "") != "Hi!" || len(deltas) != 3 {
		t.Fatalf("deltas: %q", deltas)
	}
	if done == nil || done.State != "COMPLETED" || done.Content != "Hi!" {
		t.Fatalf("done event: %+v", done)
	}
}

func TestChatErrors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 4)
	created := decode[ChatResponse](t, doJSON(t, s.e, http.MethodPost, "/v1/chats", ""))

	rec := doJSON(t, s.e, http.MethodPost, "/v1/chats/"+created.ID+"/messages", `{"content":"hello"}`)
	if rec.Code != http.StatusUnprocessableEntity || errorType(t, rec) != "model_not_selectable" {
		t.Fatalf("no model: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s.e, http.MethodPost, "/v1/chats/"+created.ID+"/messages", `{"content":"hello","accelerator":"tpu"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad accelerator: %d", rec.Code)
	}

	rec = doJSON(t, s.e, http.MethodPost, "/v1/chats/missing/messages", `{"content":"hello"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing chat: %d", rec.Code)
	}

	rec = doJSON(t, s.e, http.MethodPut, "/v1/chats/"+created.ID+"/model", `{"model_id":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing model: %d", rec.Code)
	}

	rec = doJSON(t, s.e, http.MethodPost, "/v1/chats", `{"model_id":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("create with missing model: %d", rec.Code)
	}
}

func TestUnpairedModelIsNotSelectable(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 4)
	d, err := s.catalog.ImportReader("bare.onnx", strings.NewReader(string(onnxBytes())))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	created := decode[ChatResponse](t, doJSON(t, s.e, http.MethodPost, "/v1/chats", ""))
	rec := doJSON(t, s.e, http.MethodPut, "/v1/chats/"+created.ID+"/model", `{"model_id":"`+d.ID+`"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unpaired select: %d %s", rec.Code, rec.Body.String())
	}
}
