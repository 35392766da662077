package postgrest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/logger"
	"github.com/dbsmedya/gobackfill/internal/sqlutil"
	"github.com/dbsmedya/gobackfill/internal/store"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(config.PostgRESTConfig{
		URL:      srv.URL,
		APIKey:   "anon-key",
		Schema:   "public",
		RetryMax: 2,
	}, logger.NewNop())
	require.NoError(t, err)
	c.http.RetryWaitMin = 0
	c.http.RetryWaitMax = 0
	return c
}

func TestNewValidatesURL(t *testing.T) {
	_, err := New(config.PostgRESTConfig{}, nil)
	assert.Error(t, err)

	_, err = New(config.PostgRESTConfig{URL: "not a url"}, nil)
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/modulos", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		assert.Equal(t, "public", r.Header.Get("Accept-Profile"))

		q := r.URL.Query()
		assert.Equal(t, "id_modulo", q.Get("select"))
		assert.Equal(t, "eq.B1", q.Get("id_bubble_modulo"))
		assert.Equal(t, "id_modulo.asc", q.Get("order"))
		assert.Equal(t, "2", q.Get("limit"))

		_, _ = io.WriteString(w, `[{"id_modulo":"M-100"},{"id_modulo":12345678901234}]`)
	})

	rows, err := c.Select(context.Background(), "modulos", store.Query{
		Columns: []string{"id_modulo"},
		Where:   []store.Eq{{Column: "id_bubble_modulo", Value: "B1"}},
		OrderBy: "id_modulo",
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "M-100", rows[0]["id_modulo"])
	assert.Equal(t, json.Number("12345678901234"), rows[1]["id_modulo"])
	assert.Equal(t, "12345678901234", store.String(rows[1]["id_modulo"]))
}

func TestInsert(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/aulas_assistidas", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	err := c.Insert(context.Background(), "aulas_assistidas", store.Record{"id_aula": "A-1", "id_usuario": "U-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id_aula": "A-1", "id_usuario": "U-1"}, got)
}

func TestUpdate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.42", r.URL.Query().Get("id"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		_, _ = io.WriteString(w, `[{"id":42,"id_modulo":"M-100"}]`)
	})

	n, err := c.Update(context.Background(), "aulas", store.Record{"id_modulo": "M-100"}, store.Eq{Column: "id", Value: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateNoRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := c.Update(context.Background(), "aulas", store.Record{"id_modulo": "M-100"}, store.Eq{Column: "id", Value: 7})
	assert.ErrorIs(t, err, store.ErrNoRowsAffected)

	_, err = c.Update(context.Background(), "aulas", store.Record{}, store.Eq{Column: "id", Value: 7})
	assert.Error(t, err)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"23505","message":"duplicate key value violates unique constraint","details":"Key (id_usuario)=(U1) already exists.","hint":null}`)
	})

	err := c.Insert(context.Background(), "aulas_assistidas", store.Record{"id_usuario": "U1"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "23505", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "duplicate key")
	assert.Contains(t, apiErr.Error(), "already exists")
}

func TestAPIErrorPlainBody(t *testing.T) {
	err := parseAPIError(http.StatusBadGateway, []byte("upstream down\n"))
	assert.Equal(t, "upstream down", err.Message)
	assert.Equal(t, "postgrest: HTTP 502: upstream down", err.Error())
}

func TestRetriesServerErrors(t *testing.T) {
	var attempts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	})

	rows, err := c.Select(context.Background(), "modulos", store.Query{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRetriesExhausted(t *testing.T) {
	var attempts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"message":"boom"}`)
	})

	_, err := c.Select(context.Background(), "modulos", store.Query{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "boom", apiErr.Message)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestSelectPaginatesPastMaxRows(t *testing.T) {
	table := []string{"M-1", "M-2", "M-3", "M-4", "M-5"}
	const maxRows = 2

	var pages int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pages, 1)
		q := r.URL.Query()
		assert.Equal(t, "id_modulo.asc", q.Get("order"))
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))

		offset, err := strconv.Atoi(q.Get("offset"))
		assert.NoError(t, err)
		limit, err := strconv.Atoi(q.Get("limit"))
		assert.NoError(t, err)
		if limit > maxRows {
			limit = maxRows
		}
		end := offset + limit
		if end > len(table) {
			end = len(table)
		}

		var page []map[string]string
		for _, id := range table[offset:end] {
			page = append(page, map[string]string{"id_modulo": id})
		}
		w.Header().Set("Content-Range", strconv.Itoa(offset)+"-"+strconv.Itoa(end-1)+"/"+strconv.Itoa(len(table)))
		w.WriteHeader(http.StatusPartialContent)
		_ = json.NewEncoder(w).Encode(page)
	})

	rows, err := c.Select(context.Background(), "modulos", store.Query{OrderBy: "id_modulo"})
	require.NoError(t, err)
	require.Len(t, rows, len(table))
	for i, id := range table {
		assert.Equal(t, id, rows[i]["id_modulo"])
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&pages))
}

func TestSelectStopsOnShortPageWithoutCount(t *testing.T) {
	orig := pageSize
	pageSize = 3
	defer func() { pageSize = orig }()

	var pages int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&pages, 1) == 1 {
			w.Header().Set("Content-Range", "0-2/*")
			_, _ = io.WriteString(w, `[{"id":1},{"id":2},{"id":3}]`)
			return
		}
		assert.Equal(t, "3", r.URL.Query().Get("offset"))
		w.Header().Set("Content-Range", "3-3/*")
		_, _ = io.WriteString(w, `[{"id":4}]`)
	})

	rows, err := c.Select(context.Background(), "aulas", store.Query{OrderBy: "id"})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, int32(2), atomic.LoadInt32(&pages))
}

func TestSelectNotNull(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "not.is.null", q.Get("id_modulo"))
		assert.Equal(t, "eq.B1", q.Get("id_bubble_modulo"))
		_, _ = io.WriteString(w, `[{"id_modulo":"M-100"}]`)
	})

	rows, err := c.Select(context.Background(), "modulos", store.Query{
		Where:   []store.Eq{{Column: "id_bubble_modulo", Value: "B1"}},
		NotNull: []string{"id_modulo"},
		Limit:   1,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestContentRangeTotal(t *testing.T) {
	assert.Equal(t, 5, contentRangeTotal("0-1/5"))
	assert.Equal(t, 0, contentRangeTotal("*/0"))
	assert.Equal(t, -1, contentRangeTotal("0-1/*"))
	assert.Equal(t, -1, contentRangeTotal(""))
}

func TestInsertNotResentAfterServerError(t *testing.T) {
	var attempts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.Insert(context.Background(), "aulas_assistidas", store.Record{"id_aula": 10, "id_usuario": 100})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestRejectsInvalidTable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.Select(context.Background(), "modulos?select=*", store.Query{})
	assert.IsType(t, &sqlutil.InvalidIdentifierError{}, err)
}
