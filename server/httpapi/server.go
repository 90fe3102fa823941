// Package httpapi is the HTTP REST surface of the service. Handlers are
// stateless; every operation is parameterised by the dataset coordinates
// in the path or body, and error kinds map onto transport status codes.
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saurabh22suman/oreo.io-v3/pkg/audit"
	"github.com/saurabh22suman/oreo.io-v3/pkg/catalog"
	"github.com/saurabh22suman/oreo.io-v3/pkg/changerequest"
	"github.com/saurabh22suman/oreo.io-v3/pkg/config"
	"github.com/saurabh22suman/oreo.io-v3/pkg/dbimport"
	"github.com/saurabh22suman/oreo.io-v3/pkg/delta"
	"github.com/saurabh22suman/oreo.io-v3/pkg/liveedit"
	"github.com/saurabh22suman/oreo.io-v3/pkg/mergeexec"
	"github.com/saurabh22suman/oreo.io-v3/pkg/query"
	"github.com/saurabh22suman/oreo.io-v3/pkg/sqlengine"
	"github.com/saurabh22suman/oreo.io-v3/pkg/uploads"
	"github.com/saurabh22suman/oreo.io-v3/pkg/validation"
	"github.com/saurabh22suman/oreo.io-v3/pkg/workerpool"
)

// Server wires every core service behind the REST routes.
type Server struct {
	cfg       *config.Config
	adapter   *delta.Adapter
	store     *catalog.Store
	crs       *changerequest.Service
	sessions  *liveedit.Service
	executor  *mergeexec.Executor
	uploads   *uploads.Store
	surface   *query.Surface
	importer  *dbimport.Importer
	validator *validation.Validator
	auditor   *audit.Writer
	pool      *workerpool.Pool

	httpServer *http.Server
}

// Deps bundles the constructed core services.
type Deps struct {
	Adapter   *delta.Adapter
	Store     *catalog.Store
	CRs       *changerequest.Service
	Sessions  *liveedit.Service
	Executor  *mergeexec.Executor
	Uploads   *uploads.Store
	Surface   *query.Surface
	Importer  *dbimport.Importer
	Auditor   *audit.Writer
	Pool      *workerpool.Pool
}

// NewServer creates the HTTP server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:       cfg,
		adapter:   deps.Adapter,
		store:     deps.Store,
		crs:       deps.CRs,
		sessions:  deps.Sessions,
		executor:  deps.Executor,
		uploads:   deps.Uploads,
		surface:   deps.Surface,
		importer:  deps.Importer,
		validator: validation.NewValidator(),
		auditor:   deps.Auditor,
		pool:      deps.Pool,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/health/duckdb", s.handleEngineHealth)

	r.Route("/delta", func(r chi.Router) {
		r.Post("/ensure", s.handleEnsure)
		r.Post("/append-file", s.handleAppendFile)
		r.Post("/query", s.handleQuery)
		r.Get("/history/{project}/{dataset}", s.handleHistory)
		r.Post("/restore", s.handleRestore)
		r.Get("/snapshot/{project}/{dataset}/{version}", s.handleSnapshot)
		r.Get("/stats", s.handleStats)
		r.Get("/table-info", s.handleTableInfo)
		r.Post("/merge-cr", s.handleMergeCR)
		r.Post("/import-db", s.handleImportDB)
	})

	r.Route("/change_requests", func(r chi.Router) {
		r.Post("/", s.handleCreateCR)
		r.Get("/", s.handleListCRs)
		r.Get("/{id}", s.handleGetCR)
		r.Post("/{id}/submit", s.handleSubmitCR)
		r.Post("/{id}/approve", s.handleApproveCR)
		r.Post("/{id}/reject", s.handleRejectCR)
		r.Post("/{id}/merge", s.handleMergeCRByID)
		r.Post("/{id}/close", s.handleCloseCR)
		r.Get("/{id}/events", s.handleCREvents)
		r.Get("/{id}/edits", s.handleGetCREdits)
		r.Post("/{id}/edits", s.handleSaveCREdits)
	})

	r.Route("/projects/{project}/datasets/{dataset}", func(r chi.Router) {
		r.Post("/live-sessions", s.handleStartSession)
		r.Get("/grid", s.handleGridData)
	})

	r.Route("/live-sessions/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Post("/edits", s.handleSaveEdit)
		r.Post("/edits/bulk", s.handleSaveBulkEdits)
		r.Post("/preview", s.handlePreview)
		r.Delete("/", s.handleDeleteSession)
	})

	r.Post("/live-edit/apply", s.handleApplyChanges)
	r.Post("/live-edit/rows", s.handleRowsByIDs)

	r.Route("/staging", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/finalize", s.handleFinalizeUpload)
		r.Get("/{id}", s.handleGetUpload)
		r.Delete("/{id}", s.handleDeleteUpload)
	})

	r.Route("/validation", func(r chi.Router) {
		r.Post("/cell", s.handleValidateCell)
		r.Post("/session", s.handleValidateSession)
		r.Post("/change_request", s.handleValidateCR)
		r.Post("/merge", s.handleValidateMerge)
	})

	r.Route("/rules", func(r chi.Router) {
		r.Post("/validate", s.handleValidateRows)
		r.Post("/validate/cell", s.handleValidateCell)
		r.Post("/validate/batch", s.handleValidateRows)
	})

	return RecoveryMiddleware(CORSMiddleware(LoggingMiddleware(r)))
}

// Start runs the server (blocking).
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	log.Printf("[HTTP API] listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: "3.0.0"})
}

// handleEngineHealth opens a throwaway embedded-engine connection to prove
// the query engine is operational.
func (s *Server) handleEngineHealth(w http.ResponseWriter, r *http.Request) {
	conn, err := sqlengine.Shared().Open(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: http.StatusInternalServerError})
		return
	}
	defer conn.Close()
	if _, err := conn.QueryInt(r.Context(), "SELECT 1"); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: http.StatusInternalServerError})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": "sqlite"})
}
