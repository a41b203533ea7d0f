// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	gohttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/featurebasedb/jql"
	"github.com/featurebasedb/jql/errors"
	"github.com/featurebasedb/jql/http"
	"github.com/featurebasedb/jql/logger"
	"github.com/featurebasedb/jql/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) (*http.Handler, *jql.Engine) {
	t.Helper()
	l := logger.NewLogfLogger(t)
	db := jql.NewDatabase(jql.OptDatabaseLogger(l))
	e := jql.NewEngine(db, jql.OptEngineLogger(l))
	t.Cleanup(func() { assert.NoError(t, db.Close(context.Background())) })

	h, err := http.NewHandler(http.OptHandlerEngine(e), http.OptHandlerLogger(l))
	require.NoError(t, err)
	return h, e
}

func do(t *testing.T, h gohttp.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, r))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// errorCode returns the code of the coded error in an error response.
func errorCode(t *testing.T, w *httptest.ResponseRecorder) errors.Code {
	t.Helper()
	var resp struct {
		Code errors.Code `json:"code"`
	}
	decode(t, w, &resp)
	return resp.Code
}

func TestHandlerOptions(t *testing.T) {
	_, err := http.NewHandler()
	assert.Error(t, err, "expected error making handler without an engine")

	_, e := newHandler(t)
	h, err := http.NewHandler(http.OptHandlerEngine(e))
	require.NoError(t, err)
	assert.Error(t, h.Serve(), "expected error serving without a listener")
}

func TestHandler_Sessions(t *testing.T) {
	h, e := newHandler(t)

	w := do(t, h, "POST", "/sessions", "")
	require.Equal(t, gohttp.StatusCreated, w.Code, w.Body.String())
	var created http.SessionResponse
	decode(t, w, &created)
	_, ok := e.Database().Session(created.ID)
	assert.True(t, ok)

	w = do(t, h, "GET", "/sessions", "")
	require.Equal(t, gohttp.StatusOK, w.Code)
	var sessions []jql.SessionInfo
	decode(t, w, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, created.ID, sessions[0].ID)

	w = do(t, h, "DELETE", "/sessions/"+string(created.ID), "")
	assert.Equal(t, gohttp.StatusNoContent, w.Code)

	w = do(t, h, "DELETE", "/sessions/"+string(created.ID), "")
	assert.Equal(t, gohttp.StatusNotFound, w.Code)
	assert.Equal(t, errors.Code("NotExists"), errorCode(t, w))
}

func TestHandler_Execute(t *testing.T) {
	h, e := newHandler(t)
	id, err := e.CreateSession(context.Background())
	require.NoError(t, err)
	path := fmt.Sprintf("/sessions/%s/execute", id)

	createTable := `{"kind": "create-table", "table": {
		"schema": "db", "name": "%s", "temporary": %t,
		"columns": [{"name": "id", "type": "int"}], "primaryKey": ["id"]}}`

	w := do(t, h, "POST", path, fmt.Sprintf(createTable, "t", false))
	require.Equal(t, gohttp.StatusOK, w.Code, w.Body.String())
	var resp http.ExecuteResponse
	decode(t, w, &resp)
	assert.Equal(t, http.ExecuteResponse{Kind: jql.KindCreateTable, Rows: 1}, resp)

	w = do(t, h, "POST", path, fmt.Sprintf(createTable, "t", false))
	assert.Equal(t, gohttp.StatusConflict, w.Code)
	assert.Equal(t, errors.Code("AlreadyExists"), errorCode(t, w))

	w = do(t, h, "POST", path, fmt.Sprintf(createTable, "tmp", true))
	require.Equal(t, gohttp.StatusOK, w.Code, w.Body.String())

	t.Run("Catalog", func(t *testing.T) {
		data, ok := e.Database().Global().Data("db", "t")
		require.True(t, ok)
		data.Put("1", storage.Row{1})
		data.Put("2", storage.Row{2})

		w := do(t, h, "GET", "/catalog", "")
		require.Equal(t, gohttp.StatusOK, w.Code)
		var global http.CatalogResponse
		decode(t, w, &global)
		assert.Equal(t, "global", global.Scope)
		require.Len(t, global.Schemas, 1)
		require.Len(t, global.Schemas[0].Tables, 1)
		assert.Equal(t, "t", global.Schemas[0].Tables[0].Name)
		assert.Equal(t, 2, global.Schemas[0].Tables[0].Rows)

		w = do(t, h, "GET", fmt.Sprintf("/sessions/%s/catalog", id), "")
		require.Equal(t, gohttp.StatusOK, w.Code)
		var view http.CatalogResponse
		decode(t, w, &view)
		assert.Equal(t, "readonly", view.Scope)
		require.Len(t, view.Schemas, 1)
		assert.Len(t, view.Schemas[0].Tables, 2)

		w = do(t, h, "GET", "/sessions/nope/catalog", "")
		assert.Equal(t, gohttp.StatusNotFound, w.Code)
	})

	t.Run("DropSchemaNeedsEngine", func(t *testing.T) {
		stmt := `{"kind": "drop-schema", "name": "db"}`
		w := do(t, h, "POST", path, stmt)
		assert.Equal(t, gohttp.StatusBadRequest, w.Code)
		assert.Equal(t, errors.Code("NotSupported"), errorCode(t, w))

		w = do(t, h, "POST", path+"?sandbox=false", stmt)
		require.Equal(t, gohttp.StatusOK, w.Code, w.Body.String())
		assert.False(t, e.Database().Global().HasSchema("db"))
	})

	t.Run("BadStatements", func(t *testing.T) {
		w := do(t, h, "POST", path, `{"kind": `)
		assert.Equal(t, gohttp.StatusBadRequest, w.Code)
		assert.Equal(t, errors.Code("InvalidDefinition"), errorCode(t, w))

		w = do(t, h, "POST", path, `{"kind": "truncate-table"}`)
		assert.Equal(t, gohttp.StatusBadRequest, w.Code)

		w = do(t, h, "POST", "/sessions/nope/execute", `{"kind": "create-schema", "name": "x"}`)
		assert.Equal(t, gohttp.StatusNotFound, w.Code)
	})
}

func TestHandler_Metrics(t *testing.T) {
	h, _ := newHandler(t)
	w := do(t, h, "GET", "/metrics", "")
	require.Equal(t, gohttp.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "jql_sessions_active")
}

func TestHandler_Serve(t *testing.T) {
	_, e := newHandler(t)
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	h, err := http.NewHandler(http.OptHandlerEngine(e), http.OptHandlerListener(ln))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.Serve() }()

	resp, err := gohttp.Get("http://" + ln.Addr().String() + "/sessions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, gohttp.StatusOK, resp.StatusCode)

	require.NoError(t, h.Close())
	assert.NoError(t, <-done)
}
