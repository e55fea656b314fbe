package web

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/errsnoop/database"
)

type fakeStore struct {
	stacks    []database.ErrorStackRecord
	err       error
	lastLimit int
}

func (f *fakeStore) RecentErrorStacks(limit int) ([]database.ErrorStackRecord, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.stacks) {
		return f.stacks[:limit], nil
	}
	return f.stacks, nil
}

func (f *fakeStore) GetErrorStack(id int64) (database.ErrorStackRecord, error) {
	for _, s := range f.stacks {
		if s.ID == id {
			return s, nil
		}
	}
	return database.ErrorStackRecord{}, sql.ErrNoRows
}

func testServer(store StackStore, metrics http.Handler) http.Handler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewServer(store, metrics, "127.0.0.1:0", logrus.NewEntry(logger)).Router()
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestRecentStacks(t *testing.T) {
	store := &fakeStore{stacks: []database.ErrorStackRecord{
		{ID: 2, EntryFunc: "do_sys_open", Result: -2, ErrName: "ENOENT"},
		{ID: 1, EntryFunc: "__sys_bpf", Result: -22, ErrName: "EINVAL"},
	}}
	h := testServer(store, nil)

	rec := get(t, h, "/api/stacks?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, store.lastLimit)

	var got []database.ErrorStackRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "do_sys_open", got[0].EntryFunc)

	get(t, h, "/api/stacks")
	assert.Equal(t, defaultLimit, store.lastLimit)
}

func TestRecentStacksEmptyIsArray(t *testing.T) {
	rec := get(t, testServer(&fakeStore{}, nil), "/api/stacks")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRecentStacksErrors(t *testing.T) {
	h := testServer(&fakeStore{}, nil)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/stacks?limit=zero").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/stacks?limit=-1").Code)

	failing := testServer(&fakeStore{err: errors.New("database is locked")}, nil)
	assert.Equal(t, http.StatusInternalServerError, get(t, failing, "/api/stacks").Code)
}

func TestStackByID(t *testing.T) {
	store := &fakeStore{stacks: []database.ErrorStackRecord{
		{ID: 7, EntryFunc: "__sys_bpf", StackText: "    ...\n"},
	}}
	h := testServer(store, nil)

	rec := get(t, h, "/api/stacks/7")
	require.Equal(t, http.StatusOK, rec.Code)
	var got database.ErrorStackRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, "    ...\n", got.StackText)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/stacks/8").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/stacks/abc").Code)
}

func TestOptionalRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "errsnoop_records_total 0\n")
	})

	h := testServer(nil, metrics)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/stacks").Code)

	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "errsnoop_records_total")

	assert.Equal(t, http.StatusNotFound, get(t, testServer(&fakeStore{}, nil), "/metrics").Code)
}
