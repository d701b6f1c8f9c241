// Package server exposes the catalog and registry over HTTP. It owns the
// translation between wire JSON and in-memory records; the core packages
// never see the protocol.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"modeldb/config"
	"modeldb/internal/catalog"
	"modeldb/internal/domain"
	"modeldb/internal/registry"
	"modeldb/internal/schema"
)

// Server handles the modeldb HTTP API.
type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	catalog *catalog.Store
	reg     *registry.Registry
}

func New(cfg *config.Config, logger *slog.Logger, cat *catalog.Store, reg *registry.Registry) *Server {
	return &Server{cfg: cfg, log: logger, catalog: cat, reg: reg}
}

// NewLogger builds the server's JSON logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /namespaces", s.handleListNamespaces)
	mux.HandleFunc("POST /namespaces/{namespace}", s.handleCreateNamespace)
	mux.HandleFunc("PUT /namespaces/{old}/{new}", s.handleRenameNamespace)
	mux.HandleFunc("DELETE /namespaces/{namespace}", s.handleDeleteNamespace)

	mux.HandleFunc("GET /namespaces/{namespace}/workspaces", s.handleListWorkspaces)
	mux.HandleFunc("POST /namespaces/{namespace}/workspaces/{workspace}", s.handleCreateWorkspace)
	mux.HandleFunc("PUT /namespaces/{namespace}/workspaces/{old}/{new}", s.handleRenameWorkspace)
	mux.HandleFunc("DELETE /namespaces/{namespace}/workspaces/{workspace}", s.handleDeleteWorkspace)

	mux.HandleFunc("GET /namespaces/{namespace}/workspaces/{workspace}/repositories", s.handleListRepositories)
	mux.HandleFunc("POST /namespaces/{namespace}/workspaces/{workspace}/repositories/{repository}", s.handleCreateRepository)
	mux.HandleFunc("PUT /namespaces/{namespace}/workspaces/{workspace}/repositories/{old}/{new}", s.handleRenameRepository)
	mux.HandleFunc("DELETE /namespaces/{namespace}/workspaces/{workspace}/repositories/{repository}", s.handleDeleteRepository)

	mux.HandleFunc("GET /namespaces/{namespace}/workspaces/{workspace}/repositories/{repository}/models", s.handleListModels)
	mux.HandleFunc("POST /namespaces/{namespace}/workspaces/{workspace}/repositories/{repository}/models/{model}", s.handleCreateModel)
	mux.HandleFunc("DELETE /namespaces/{namespace}/workspaces/{workspace}/repositories/{repository}/models/{model}", s.handleDeleteModel)

	mux.HandleFunc("POST /namespaces/{namespace}/workspaces/{workspace}/repositories/{repository}/models/{model}/index", s.handleIndex)
	mux.HandleFunc("POST /namespaces/{namespace}/workspaces/{workspace}/repositories/{repository}/models/{model}/search", s.handleSearch)
	mux.HandleFunc("GET /namespaces/{namespace}/workspaces/{workspace}/repositories/{repository}/models/{model}/data/{id}", s.handleGetData)

	var h http.Handler = mux
	if s.cfg.Server.RateRPS > 0 {
		h = s.rateLimit(h)
	}
	return s.logRequests(h)
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	names, err := s.catalog.ListNamespaces()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.CreateNamespace(r.PathValue("namespace")); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleRenameNamespace(w http.ResponseWriter, r *http.Request) {
	oldName, newName := r.PathValue("old"), r.PathValue("new")
	if err := s.catalog.RenameNamespace(oldName, newName); err != nil {
		s.writeErr(w, err)
		return
	}
	s.reg.RenamePrefix(registry.TreePrefix(oldName), registry.TreePrefix(newName))
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("namespace")
	if err := s.catalog.DeleteNamespace(ns); err != nil {
		s.writeErr(w, err)
		return
	}
	s.reg.DeletePrefix(registry.TreePrefix(ns))
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	names, err := s.catalog.ListWorkspaces(r.PathValue("namespace"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.CreateWorkspace(r.PathValue("namespace"), r.PathValue("workspace")); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleRenameWorkspace(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("namespace")
	oldName, newName := r.PathValue("old"), r.PathValue("new")
	if err := s.catalog.RenameWorkspace(ns, oldName, newName); err != nil {
		s.writeErr(w, err)
		return
	}
	s.reg.RenamePrefix(registry.TreePrefix(ns, oldName), registry.TreePrefix(ns, newName))
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	ns, ws := r.PathValue("namespace"), r.PathValue("workspace")
	if err := s.catalog.DeleteWorkspace(ns, ws); err != nil {
		s.writeErr(w, err)
		return
	}
	s.reg.DeletePrefix(registry.TreePrefix(ns, ws))
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	names, err := s.catalog.ListRepositories(r.PathValue("namespace"), r.PathValue("workspace"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleCreateRepository(w http.ResponseWriter, r *http.Request) {
	err := s.catalog.CreateRepository(r.PathValue("namespace"), r.PathValue("workspace"), r.PathValue("repository"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleRenameRepository(w http.ResponseWriter, r *http.Request) {
	ns, ws := r.PathValue("namespace"), r.PathValue("workspace")
	oldName, newName := r.PathValue("old"), r.PathValue("new")
	if err := s.catalog.RenameRepository(ns, ws, oldName, newName); err != nil {
		s.writeErr(w, err)
		return
	}
	s.reg.RenamePrefix(registry.TreePrefix(ns, ws, oldName), registry.TreePrefix(ns, ws, newName))
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleDeleteRepository(w http.ResponseWriter, r *http.Request) {
	ns, ws, repo := r.PathValue("namespace"), r.PathValue("workspace"), r.PathValue("repository")
	if err := s.catalog.DeleteRepository(ns, ws, repo); err != nil {
		s.writeErr(w, err)
		return
	}
	s.reg.DeletePrefix(registry.TreePrefix(ns, ws, repo))
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	names, err := s.catalog.ListModels(r.PathValue("namespace"), r.PathValue("workspace"), r.PathValue("repository"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

type createModelRequest struct {
	JSONSchema string `json:"json_schema"`
	BaseClass  string `json:"base_class"`
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	ns, ws, repo := r.PathValue("namespace"), r.PathValue("workspace"), r.PathValue("repository")
	model := r.PathValue("model")

	var req createModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	if req.JSONSchema == "" || req.BaseClass == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "json_schema and base_class are required")
		return
	}

	// The repository must exist before a model can be registered under it.
	if _, err := s.catalog.ListModels(ns, ws, repo); err != nil {
		s.writeErr(w, err)
		return
	}

	key := registry.Key{Namespace: ns, Workspace: ws, Repository: repo, Model: model}
	if _, err := s.reg.Resolve(key, req.JSONSchema, req.BaseClass); err != nil {
		s.writeErr(w, err)
		return
	}
	def := catalog.ModelDef{Schema: req.JSONSchema, BaseShape: req.BaseClass}
	if err := s.catalog.PutModel(ns, ws, repo, model, def); err != nil {
		s.writeErr(w, err)
		return
	}
	s.log.Info("model created", "model", key.String())
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	ns, ws, repo := r.PathValue("namespace"), r.PathValue("workspace"), r.PathValue("repository")
	model := r.PathValue("model")
	if err := s.catalog.DeleteModel(ns, ws, repo, model); err != nil {
		s.writeErr(w, err)
		return
	}
	s.reg.Delete(registry.Key{Namespace: ns, Workspace: ws, Repository: repo, Model: model})
	writeJSON(w, http.StatusOK, true)
}

type indexRequest struct {
	Data    map[string]any   `json:"data"`
	Records []map[string]any `json:"records"`
}

type indexResponse struct {
	Indexed int      `json:"indexed"`
	IDs     []string `json:"ids"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	entry, err := s.modelEntry(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	rows := req.Records
	if req.Data != nil {
		rows = append(rows, req.Data)
	}
	if len(rows) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "data or records is required")
		return
	}

	resp := indexResponse{IDs: make([]string, 0, len(rows))}
	for _, row := range rows {
		rec, err := schema.DecodeRecord(entry.Desc, row)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		if err := entry.Index.Insert(rec); err != nil {
			s.writeErr(w, err)
			return
		}
		resp.Indexed++
		resp.IDs = append(resp.IDs, rec.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

type searchRequest struct {
	Query  map[string]any `json:"query"`
	Vector []float64      `json:"vector"`
	Field  string         `json:"field"`
	Limit  int            `json:"limit"`
}

type searchHit struct {
	Distance float64        `json:"distance"`
	Record   map[string]any `json:"record"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	entry, err := s.modelEntry(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	field := req.Field
	if field == "" {
		field = entry.Index.VectorField()
	}
	limit := req.Limit
	if limit == 0 {
		limit = s.cfg.Search.DefaultLimit
	}
	if limit > s.cfg.Search.MaxLimit {
		limit = s.cfg.Search.MaxLimit
	}

	var query domain.Record
	switch {
	case len(req.Vector) > 0:
		vec := make([]float32, len(req.Vector))
		for i, n := range req.Vector {
			vec[i] = float32(n)
		}
		query = domain.Record{Desc: entry.Desc, Values: map[string]any{field: vec}}
	case req.Query != nil:
		query, err = schema.DecodeRecord(entry.Desc, req.Query)
		if err != nil {
			s.writeErr(w, err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "query or vector is required")
		return
	}

	hits, err := entry.Index.Search(query, field, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	results := make([]searchHit, len(hits))
	for i, h := range hits {
		results[i] = searchHit{Distance: h.Distance, Record: schema.EncodeRecord(h.Record)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	entry, err := s.modelEntry(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	rec, ok := entry.Index.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "record not found")
		return
	}
	writeJSON(w, http.StatusOK, schema.EncodeRecord(rec))
}

// modelEntry resolves the live entry for the request's model, falling back
// to the persisted definition so models survive a restart.
func (s *Server) modelEntry(r *http.Request) (*registry.Entry, error) {
	key := registry.Key{
		Namespace:  r.PathValue("namespace"),
		Workspace:  r.PathValue("workspace"),
		Repository: r.PathValue("repository"),
		Model:      r.PathValue("model"),
	}
	if entry, ok := s.reg.Lookup(key); ok {
		return entry, nil
	}
	def, err := s.catalog.GetModel(key.Namespace, key.Workspace, key.Repository, key.Model)
	if err != nil {
		return nil, err
	}
	return s.reg.Resolve(key, def.Schema, def.BaseShape)
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeError(w, status, kind, err.Error())
}

// statusFor maps the core error taxonomy to HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, domain.ErrSchemaConflict):
		return http.StatusConflict, "schema_conflict"
	case errors.Is(err, domain.ErrUnknownBaseShape):
		return http.StatusBadRequest, "unknown_base_shape"
	case errors.Is(err, domain.ErrInvalidSchema):
		return http.StatusBadRequest, "invalid_schema"
	case errors.Is(err, domain.ErrTypeMismatch):
		return http.StatusBadRequest, "type_mismatch"
	case errors.Is(err, domain.ErrDimensionMismatch):
		return http.StatusBadRequest, "dimension_mismatch"
	case errors.Is(err, domain.ErrEmptyVectorField):
		return http.StatusBadRequest, "empty_vector_field"
	case errors.Is(err, domain.ErrFieldNotFound):
		return http.StatusBadRequest, "field_not_found"
	case errors.Is(err, domain.ErrInvalidLimit):
		return http.StatusBadRequest, "invalid_limit"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeError(w http.ResponseWriter, status int, errStr, message string) {
	writeJSON(w, status, apiError{Error: errStr, Message: message, Code: status})
}
