package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"modeldb/config"
	"modeldb/internal/catalog"
	"modeldb/internal/registry"
	"modeldb/internal/schema"
)

const docSchema = `{
	"title": "DataModel",
	"type": "object",
	"properties": {
		"text": {"type": "string"},
		"embedding": {"type": "array", "items": {"type": "number"}}
	},
	"required": ["text"]
}`

const modelBase = "/namespaces/root/workspaces/default/repositories/main/models/DataModel"

type testEnv struct {
	srv *httptest.Server
	cat *catalog.Store
	cfg *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Search.DefaultLimit = 10
	cfg.Search.MaxLimit = 100

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	reg := registry.New(schema.NewMaterializer())
	s := New(cfg, NewLogger("error"), cat, reg)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, cat: cat, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			if m, ok := v.(map[string]any); ok {
				decoded = m
			}
		}
	}
	return resp.StatusCode, decoded
}

func (e *testEnv) createTree(t *testing.T) {
	t.Helper()
	for _, path := range []string{
		"/namespaces/root",
		"/namespaces/root/workspaces/default",
		"/namespaces/root/workspaces/default/repositories/main",
	} {
		if code, body := e.do(t, http.MethodPost, path, nil); code != http.StatusOK {
			t.Fatalf("POST %s: status %d, body %v", path, code, body)
		}
	}
}

func (e *testEnv) createModel(t *testing.T) {
	t.Helper()
	code, body := e.do(t, http.MethodPost, modelBase, map[string]any{
		"json_schema": docSchema,
		"base_class":  "text_document",
	})
	if code != http.StatusOK {
		t.Fatalf("create model: status %d, body %v", code, body)
	}
}

func (e *testEnv) indexRecord(t *testing.T, text string, vec []float64) {
	t.Helper()
	code, body := e.do(t, http.MethodPost, modelBase+"/index", map[string]any{
		"data": map[string]any{"text": text, "embedding": vec},
	})
	if code != http.StatusOK {
		t.Fatalf("index %q: status %d, body %v", text, code, body)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	if code, _ := e.do(t, http.MethodGet, "/healthz", nil); code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
}

func TestHierarchyCRUD(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)

	// Duplicate creation conflicts.
	if code, _ := e.do(t, http.MethodPost, "/namespaces/root", nil); code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate namespace, got %d", code)
	}

	// Creating under a missing parent is a 404.
	if code, _ := e.do(t, http.MethodPost, "/namespaces/ghost/workspaces/w", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for missing namespace, got %d", code)
	}

	if code, _ := e.do(t, http.MethodPut, "/namespaces/root/default2", nil); code != http.StatusOK {
		t.Errorf("expected 200 renaming namespace, got %d", code)
	}
	if code, _ := e.do(t, http.MethodDelete, "/namespaces/default2", nil); code != http.StatusOK {
		t.Errorf("expected 200 deleting namespace, got %d", code)
	}
	if code, _ := e.do(t, http.MethodDelete, "/namespaces/default2", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 deleting twice, got %d", code)
	}
}

func TestIndexAndSearch(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)

	e.indexRecord(t, "origin", []float64{0, 0})
	e.indexRecord(t, "near", []float64{1, 0})
	e.indexRecord(t, "far", []float64{5, 5})

	code, body := e.do(t, http.MethodPost, modelBase+"/search", map[string]any{
		"vector": []float64{0, 0},
		"limit":  2,
	})
	if code != http.StatusOK {
		t.Fatalf("search: status %d, body %v", code, body)
	}

	results := body["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	first := results[0].(map[string]any)
	second := results[1].(map[string]any)
	if first["record"].(map[string]any)["text"] != "origin" {
		t.Errorf("expected closest record first, got %v", first)
	}
	if second["record"].(map[string]any)["text"] != "near" {
		t.Errorf("expected second-closest record, got %v", second)
	}
	if first["distance"].(float64) > second["distance"].(float64) {
		t.Error("results must be sorted by ascending distance")
	}
}

func TestSearch_WithQueryRecord(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)
	e.indexRecord(t, "only", []float64{1, 2})

	code, body := e.do(t, http.MethodPost, modelBase+"/search", map[string]any{
		"query": map[string]any{"text": "q", "embedding": []float64{1, 2}},
	})
	if code != http.StatusOK {
		t.Fatalf("search: status %d, body %v", code, body)
	}
	if len(body["results"].([]any)) != 1 {
		t.Errorf("expected 1 result, got %v", body["results"])
	}
}

func TestSearch_EmptyModel(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)

	code, body := e.do(t, http.MethodPost, modelBase+"/search", map[string]any{
		"vector": []float64{0, 0},
		"limit":  5,
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200 for empty model, got %d: %v", code, body)
	}
	if len(body["results"].([]any)) != 0 {
		t.Errorf("expected empty results, got %v", body["results"])
	}
}

func TestCreateModel_Errors(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)

	code, body := e.do(t, http.MethodPost, modelBase, map[string]any{
		"json_schema": docSchema,
		"base_class":  "unknown_shape",
	})
	if code != http.StatusBadRequest || body["error"] != "unknown_base_shape" {
		t.Errorf("expected 400 unknown_base_shape, got %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPost, modelBase, map[string]any{
		"json_schema": `{"type": "object", "properties": {"f": {"type": "null"}}}`,
		"base_class":  "document",
	})
	if code != http.StatusBadRequest || body["error"] != "invalid_schema" {
		t.Errorf("expected 400 invalid_schema, got %d %v", code, body)
	}

	// Models require an existing repository.
	code, _ = e.do(t, http.MethodPost, "/namespaces/root/workspaces/default/repositories/ghost/models/M", map[string]any{
		"json_schema": docSchema,
		"base_class":  "text_document",
	})
	if code != http.StatusNotFound {
		t.Errorf("expected 404 for missing repository, got %d", code)
	}
}

func TestCreateModel_SchemaConflict(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)

	code, body := e.do(t, http.MethodPost, modelBase, map[string]any{
		"json_schema": `{"type": "object", "properties": {"name": {"type": "string"}}}`,
		"base_class":  "document",
	})
	if code != http.StatusConflict || body["error"] != "schema_conflict" {
		t.Errorf("expected 409 schema_conflict, got %d %v", code, body)
	}

	// Recreating with the same schema is idempotent.
	e.createModel(t)
}

func TestIndex_DimensionMismatch(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)
	e.indexRecord(t, "a", []float64{0, 0, 0})

	code, body := e.do(t, http.MethodPost, modelBase+"/index", map[string]any{
		"data": map[string]any{"text": "b", "embedding": []float64{0, 0, 0, 0}},
	})
	if code != http.StatusBadRequest || body["error"] != "dimension_mismatch" {
		t.Errorf("expected 400 dimension_mismatch, got %d %v", code, body)
	}
}

func TestIndex_Batch(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)

	code, body := e.do(t, http.MethodPost, modelBase+"/index", map[string]any{
		"records": []map[string]any{
			{"text": "a", "embedding": []float64{0, 0}},
			{"text": "b", "embedding": []float64{1, 1}},
		},
	})
	if code != http.StatusOK {
		t.Fatalf("batch index: status %d, body %v", code, body)
	}
	if body["indexed"].(float64) != 2 {
		t.Errorf("expected 2 indexed, got %v", body["indexed"])
	}
	if len(body["ids"].([]any)) != 2 {
		t.Errorf("expected 2 ids, got %v", body["ids"])
	}
}

func TestGetData(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)

	code, body := e.do(t, http.MethodPost, modelBase+"/index", map[string]any{
		"data": map[string]any{"id": "rec-1", "text": "hello", "embedding": []float64{1, 2}},
	})
	if code != http.StatusOK {
		t.Fatalf("index: %d %v", code, body)
	}

	code, body = e.do(t, http.MethodGet, modelBase+"/data/rec-1", nil)
	if code != http.StatusOK {
		t.Fatalf("get data: status %d", code)
	}
	if body["text"] != "hello" {
		t.Errorf("unexpected record: %v", body)
	}

	if code, _ := e.do(t, http.MethodGet, modelBase+"/data/missing", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown record, got %d", code)
	}
}

func TestModelSurvivesRegistryRestart(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)
	e.indexRecord(t, "volatile", []float64{1, 1})

	// A new registry over the same catalog simulates a process restart:
	// the model definition is rematerialized, the records are gone.
	reg := registry.New(schema.NewMaterializer())
	restarted := httptest.NewServer(New(e.cfg, NewLogger("error"), e.cat, reg).Handler())
	defer restarted.Close()

	body, _ := json.Marshal(map[string]any{"vector": []float64{1, 1}, "limit": 5})
	resp, err := http.Post(restarted.URL+modelBase+"/search", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected model to resolve from catalog after restart, got %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out["results"].([]any)) != 0 {
		t.Error("record contents must not survive a restart")
	}
}

func TestDeleteModelDiscardsIndex(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)
	e.indexRecord(t, "gone", []float64{1, 1})

	if code, _ := e.do(t, http.MethodDelete, modelBase, nil); code != http.StatusOK {
		t.Fatalf("delete model failed")
	}

	// The key is free again; a new model starts empty.
	e.createModel(t)
	code, body := e.do(t, http.MethodPost, modelBase+"/search", map[string]any{
		"vector": []float64{1, 1},
	})
	if code != http.StatusOK {
		t.Fatalf("search: %d %v", code, body)
	}
	if len(body["results"].([]any)) != 0 {
		t.Error("deleted model's records must be discarded")
	}
}

func TestRenameNamespaceKeepsIndexContents(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)
	e.indexRecord(t, "kept", []float64{2, 3})

	if code, _ := e.do(t, http.MethodPut, "/namespaces/root/prod", nil); code != http.StatusOK {
		t.Fatal("rename failed")
	}

	moved := "/namespaces/prod/workspaces/default/repositories/main/models/DataModel"
	code, body := e.do(t, http.MethodPost, moved+"/search", map[string]any{
		"vector": []float64{2, 3},
		"limit":  1,
	})
	if code != http.StatusOK {
		t.Fatalf("search after rename: %d %v", code, body)
	}
	results := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected the live index to move with the rename, got %v", results)
	}
	if results[0].(map[string]any)["record"].(map[string]any)["text"] != "kept" {
		t.Errorf("unexpected record after rename: %v", results[0])
	}
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t)

	cfg := config.DefaultConfig()
	cfg.Server.RateRPS = 1
	cfg.Server.RateBurst = 1

	reg := registry.New(schema.NewMaterializer())
	limited := httptest.NewServer(New(cfg, NewLogger("error"), e.cat, reg).Handler())
	defer limited.Close()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(limited.URL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	saw429 := false
	for _, c := range codes {
		if c == http.StatusTooManyRequests {
			saw429 = true
		}
	}
	if !saw429 {
		t.Errorf("expected a rate-limited response in %v", codes)
	}
}

func TestSearch_InvalidRequests(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)

	if code, _ := e.do(t, http.MethodPost, modelBase+"/search", map[string]any{}); code != http.StatusBadRequest {
		t.Errorf("expected 400 for search without query or vector, got %d", code)
	}

	code, body := e.do(t, http.MethodPost, modelBase+"/search", map[string]any{
		"vector": []float64{0, 0},
		"field":  "text",
	})
	if code != http.StatusBadRequest || body["error"] != "field_not_found" {
		t.Errorf("expected 400 field_not_found, got %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPost, modelBase+"/search", map[string]any{
		"vector": []float64{0, 0},
		"limit":  -1,
	})
	if code != http.StatusBadRequest || body["error"] != "invalid_limit" {
		t.Errorf("expected 400 invalid_limit, got %d %v", code, body)
	}
}

func TestIndex_TypeMismatch(t *testing.T) {
	e := newTestEnv(t)
	e.createTree(t)
	e.createModel(t)

	code, body := e.do(t, http.MethodPost, modelBase+"/index", map[string]any{
		"data": map[string]any{"text": 42, "embedding": []float64{0, 0}},
	})
	if code != http.StatusBadRequest || body["error"] != "type_mismatch" {
		t.Errorf("expected 400 type_mismatch, got %d %v", code, body)
	}

	// A failed insert leaves the index unchanged.
	code, body = e.do(t, http.MethodPost, modelBase+"/search", map[string]any{
		"vector": []float64{0, 0},
	})
	if code != http.StatusOK {
		t.Fatalf("search: %d %v", code, body)
	}
	if len(body["results"].([]any)) != 0 {
		t.Errorf("expected no records after failed insert, got %v", body["results"])
	}
}
