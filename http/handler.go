// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package http exposes an Engine's catalogs, sessions and metrics over HTTP.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/featurebasedb/jql"
	"github.com/featurebasedb/jql/catalog"
	"github.com/featurebasedb/jql/errors"
	"github.com/featurebasedb/jql/lock"
	"github.com/featurebasedb/jql/logger"
	"github.com/featurebasedb/jql/tracing"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxStatementSize bounds the body of an execute request.
const maxStatementSize = 1 << 20

// Handler represents an HTTP handler.
type Handler struct {
	Handler http.Handler

	logger logger.Logger

	engine *jql.Engine

	ln net.Listener

	closeTimeout time.Duration

	server *http.Server
}

// handlerOption is a functional option type for Handler.
type handlerOption func(h *Handler) error

func OptHandlerEngine(e *jql.Engine) handlerOption {
	return func(h *Handler) error {
		h.engine = e
		return nil
	}
}

func OptHandlerLogger(logger logger.Logger) handlerOption {
	return func(h *Handler) error {
		h.logger = logger
		return nil
	}
}

func OptHandlerListener(ln net.Listener) handlerOption {
	return func(h *Handler) error {
		h.ln = ln
		return nil
	}
}

// OptHandlerCloseTimeout controls how long to wait for the http Server to
// shutdown cleanly before forcibly destroying it. Default is 30 seconds.
func OptHandlerCloseTimeout(d time.Duration) handlerOption {
	return func(h *Handler) error {
		h.closeTimeout = d
		return nil
	}
}

// NewHandler returns a new instance of Handler with a default logger.
func NewHandler(opts ...handlerOption) (*Handler, error) {
	handler := &Handler{
		logger:       logger.NopLogger,
		closeTimeout: time.Second * 30,
	}
	handler.Handler = newRouter(handler)

	for _, opt := range opts {
		err := opt(handler)
		if err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}

	if handler.engine == nil {
		return nil, errors.Errorf("must pass OptHandlerEngine")
	}

	handler.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return handler, nil
}

// Serve serves HTTP on the listener passed with OptHandlerListener until
// Close is called.
func (h *Handler) Serve() error {
	if h.ln == nil {
		return errors.Errorf("must pass OptHandlerListener")
	}
	err := h.server.Serve(h.ln)
	if err != nil && err != http.ErrServerClosed {
		h.logger.Errorf("HTTP handler terminated with error: %s", err)
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// Close tries to cleanly shutdown the HTTP server, and failing that, after a
// timeout, calls Server.Close.
func (h *Handler) Close() error {
	deadlineCtx, cancelFunc := context.WithTimeout(context.Background(), h.closeTimeout)
	defer cancelFunc()
	err := h.server.Shutdown(deadlineCtx)
	if err != nil {
		err = h.server.Close()
	}
	return errors.Wrap(err, "shutdown/close http server")
}

func (h *Handler) extractTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span, ctx := tracing.GlobalTracer.ExtractHTTPHeaders(r)
		defer span.Finish()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// newRouter creates a new mux http router.
func newRouter(handler *Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", handler.handleHome).Methods("GET").Name("Home")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET").Name("Metrics")
	router.HandleFunc("/catalog", handler.handleGetCatalog).Methods("GET").Name("GetCatalog")
	router.HandleFunc("/sessions", handler.handleGetSessions).Methods("GET").Name("GetSessions")
	router.HandleFunc("/sessions", handler.handlePostSession).Methods("POST").Name("PostSession")
	router.HandleFunc("/sessions/{id}", handler.handleDeleteSession).Methods("DELETE").Name("DeleteSession")
	router.HandleFunc("/sessions/{id}/catalog", handler.handleGetCatalog).Methods("GET").Name("GetSessionCatalog")
	router.HandleFunc("/sessions/{id}/execute", handler.handlePostExecute).Methods("POST").Name("PostExecute")
	router.Use(handler.extractTracing)
	return router
}

// ServeHTTP handles an HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			stack := debug.Stack()
			msg := "PANIC: %s\n%s"
			h.logger.Errorf(msg, err, stack)
			fmt.Fprintf(w, msg, err, stack)
		}
	}()

	h.Handler.ServeHTTP(w, r)
}

// statusOf maps an error's code to an HTTP status.
func statusOf(err error) int {
	code, _ := errors.CodeOf(err)
	switch code {
	case catalog.ErrNotExists:
		return http.StatusNotFound
	case catalog.ErrAlreadyExists, lock.ErrClosed, lock.ErrDeadlock:
		return http.StatusConflict
	case catalog.ErrInvalidDefinition, catalog.ErrNotSupported, catalog.ErrReadOnly:
		return http.StatusBadRequest
	case lock.ErrCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON coded error.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Errorf("http: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, errors.MarshalJSON(err)+"\n"); err != nil {
		h.logger.Errorf("writing error response: %v", err)
	}
}

// writeJSON writes v as the JSON response body.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorf("writing response: %v", err)
	}
}

func (h *Handler) handleHome(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "Welcome. jql is running.", http.StatusNotFound)
}

// SchemaInfo lists the tables of one schema.
type SchemaInfo struct {
	Name   string      `json:"name"`
	Tables []TableInfo `json:"tables"`
}

// TableInfo is a table definition along with the number of rows stored.
type TableInfo struct {
	*catalog.TableDefinition
	Rows int `json:"rows"`
}

// CatalogResponse is the body of a catalog request.
type CatalogResponse struct {
	Scope     string                         `json:"scope"`
	Schemas   []SchemaInfo                   `json:"schemas"`
	Functions []*catalog.FunctionDefinition `json:"functions"`
}

func newCatalogResponse(cx *catalog.Context) CatalogResponse {
	resp := CatalogResponse{
		Scope:     cx.Scope().String(),
		Schemas:   []SchemaInfo{},
		Functions: cx.Functions(),
	}
	for _, schema := range cx.Schemas() {
		info := SchemaInfo{Name: schema, Tables: []TableInfo{}}
		for _, td := range cx.Tables(schema) {
			ti := TableInfo{TableDefinition: td}
			if data, ok := cx.Data(schema, td.Name); ok {
				ti.Rows = data.Len()
			}
			info.Tables = append(info.Tables, ti)
		}
		resp.Schemas = append(resp.Schemas, info)
	}
	return resp
}

// handleGetCatalog handles GET /catalog, which describes the global catalog,
// and GET /sessions/{id}/catalog, which describes what the session sees.
func (h *Handler) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	cx := h.engine.Database().Global()
	if id, ok := mux.Vars(r)["id"]; ok {
		v, err := h.engine.View(jql.SessionID(id))
		if err != nil {
			h.writeError(w, err)
			return
		}
		cx = v
	}
	h.writeJSON(w, http.StatusOK, newCatalogResponse(cx))
}

func (h *Handler) handleGetSessions(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Database().Sessions())
}

// SessionResponse is the body of a session creation request.
type SessionResponse struct {
	ID jql.SessionID `json:"id"`
}

func (h *Handler) handlePostSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.engine.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, SessionResponse{ID: id})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := jql.SessionID(mux.Vars(r)["id"])
	if err := h.engine.KillSession(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteResponse is the body of an execute request.
type ExecuteResponse struct {
	Kind string `json:"kind"`
	Rows int    `json:"rows"`
}

// handlePostExecute runs the JSON statement in the request body on behalf of
// the session. Unless the sandbox query parameter is "false", the statement
// runs in an autocommit Sandbox.
func (h *Handler) handlePostExecute(w http.ResponseWriter, r *http.Request) {
	id := jql.SessionID(mux.Vars(r)["id"])
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStatementSize))
	if err != nil {
		h.writeError(w, errors.Wrap(err, "reading statement"))
		return
	}
	stmt, err := jql.DecodeStatement(body)
	if err != nil {
		if _, coded := errors.CodeOf(err); !coded {
			err = catalog.NewErrInvalidDefinition(err.Error())
		}
		h.writeError(w, err)
		return
	}

	var n int
	if r.URL.Query().Get("sandbox") == "false" {
		n, err = h.engine.Execute(r.Context(), id, stmt)
	} else {
		var sb *jql.Sandbox
		if sb, err = h.engine.Begin(id, true); err == nil {
			n, err = sb.Execute(r.Context(), stmt)
		}
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ExecuteResponse{Kind: stmt.Kind(), Rows: n})
}
