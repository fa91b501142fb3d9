package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoyal88/sqlrecorder/pkg/middleware"
	"github.com/ngoyal88/sqlrecorder/pkg/recorder"
	"github.com/ngoyal88/sqlrecorder/pkg/storage"
	"github.com/ngoyal88/sqlrecorder/pkg/storage/memory"
)

type testServer struct {
	handler http.Handler
	store   storage.Store
}

func newTestServer(t *testing.T, store storage.Store, adminKey string) *testServer {
	t.Helper()
	ctrl := recorder.NewController(store).CaptureStacks(false)

	r := mux.NewRouter()
	NewRecorderAPI(ctrl, store, adminKey, zap.NewNop()).RegisterRoutes(r)
	r.HandleFunc("/app/work", func(w http.ResponseWriter, r *http.Request) {
		if rec, ok := recorder.FromContext(r.Context()); ok {
			rec.Register(storage.Call{Query: "SELECT 1", Duration: 5})
			rec.Register(storage.Call{Query: "SELECT 2", Duration: 10})
		}
		w.WriteHeader(http.StatusOK)
	})

	return &testServer{
		handler: middleware.RecordQueries(ctrl, zap.NewNop())(r),
		store:   store,
	}
}

func (s *testServer) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) setState(t *testing.T, on bool) {
	t.Helper()
	w := s.do("POST", "/recorder/state", fmt.Sprintf("should_record=%t", on),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestStatusAndSetState(t *testing.T) {
	s := newTestServer(t, memory.New(storage.Options{}), "")

	w := s.do("GET", "/recorder/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, recorder.StatusInactive, decode[recorder.Status](t, w))

	w = s.do("POST", "/recorder/state", `{"should_record": "true"}`,
		map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, recorder.Status{Status: "Active", Color: "green"}, decode[recorder.Status](t, w))

	w = s.do("GET", "/recorder/status", "", nil)
	assert.Equal(t, recorder.StatusActive, decode[recorder.Status](t, w))

	// anything other than "true" switches recording off
	w = s.do("POST", "/recorder/state", "should_record=yes",
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, recorder.StatusInactive, decode[recorder.Status](t, w))

	w = s.do("POST", "/recorder/state", `{bad`, map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordedRequestIsListed(t *testing.T) {
	s := newTestServer(t, memory.New(storage.Options{}), "")
	s.setState(t, true)

	require.Equal(t, http.StatusOK, s.do("GET", "/app/work?cmd=work", "", nil).Code)

	w := s.do("GET", "/recorder/requests", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]storage.Trace](t, w)
	require.Len(t, list, 1)

	got := list[0]
	assert.Equal(t, "/app/work", got.Path)
	assert.Equal(t, "GET", got.Method)
	assert.Equal(t, "work", got.Command)
	assert.Equal(t, 2, got.Queries)
	assert.InDelta(t, 15.0, got.TimeQueries, 0.0001)
	assert.Empty(t, got.Calls)
	assert.NotContains(t, w.Body.String(), `"calls"`)

	w = s.do("GET", "/recorder/requests/"+got.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[storage.Trace](t, w)
	require.Len(t, detail.Calls, 2)
	assert.Equal(t, "SELECT 1", detail.Calls[0].Query)
	assert.Equal(t, "SELECT 2", detail.Calls[1].Query)
	require.NotNil(t, detail.HTTP)
	assert.Equal(t, "work", detail.HTTP.Data["cmd"])

	w = s.do("GET", "/recorder/requests?id="+got.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, got.ID, decode[storage.Trace](t, w).ID)
}

func TestControlRequestsAreNotRecorded(t *testing.T) {
	s := newTestServer(t, memory.New(storage.Options{}), "")
	s.setState(t, true)

	s.do("GET", "/recorder/status", "", nil)
	s.do("GET", "/recorder/requests", "", nil)
	s.setState(t, true)

	list, err := s.store.ListTraces(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestInactiveRequestsAreNotRecorded(t *testing.T) {
	s := newTestServer(t, memory.New(storage.Options{}), "")

	require.Equal(t, http.StatusOK, s.do("GET", "/app/work", "", nil).Code)

	w := s.do("GET", "/recorder/requests", "", nil)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestGetUnknownTrace(t *testing.T) {
	s := newTestServer(t, memory.New(storage.Options{}), "")

	w := s.do("GET", "/recorder/requests/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteClearsList(t *testing.T) {
	s := newTestServer(t, memory.New(storage.Options{}), "")
	s.setState(t, true)
	s.do("GET", "/app/work", "", nil)
	s.do("GET", "/app/work", "", nil)

	list := decode[[]storage.Trace](t, s.do("GET", "/recorder/requests", "", nil))
	require.Len(t, list, 2)

	w := s.do("DELETE", "/recorder/requests", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Empty(t, decode[[]storage.Trace](t, s.do("GET", "/recorder/requests", "", nil)))

	// details stay until they expire
	assert.Equal(t, http.StatusOK, s.do("GET", "/recorder/requests/"+list[0].ID, "", nil).Code)
}

func TestAdminKeyRequired(t *testing.T) {
	s := newTestServer(t, memory.New(storage.Options{}), "secret")

	w := s.do("GET", "/recorder/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do("GET", "/recorder/status", "", map[string]string{"X-Admin-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do("GET", "/recorder/status", "", map[string]string{"X-Admin-Key": "secret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

type downStore struct {
	*memory.Store
}

func (downStore) Intercepting(context.Context) (bool, error) {
	return false, storage.ErrStoreUnavailable
}

func (downStore) ListTraces(context.Context) ([]storage.Summary, error) {
	return nil, storage.ErrStoreUnavailable
}

func TestStoreUnavailable(t *testing.T) {
	s := newTestServer(t, downStore{memory.New(storage.Options{})}, "")

	assert.Equal(t, http.StatusServiceUnavailable, s.do("GET", "/recorder/status", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do("GET", "/recorder/requests", "", nil).Code)

	// the app keeps serving, unrecorded
	assert.Equal(t, http.StatusOK, s.do("GET", "/app/work", "", nil).Code)
}

func TestEventsStream(t *testing.T) {
	store := memory.New(storage.Options{})
	s := newTestServer(t, store, "")
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	s.setState(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/recorder/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	res, err := http.Get(srv.URL + "/app/work")
	require.NoError(t, err)
	res.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: "+storage.DumpEvent+"\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var summary storage.Trace
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &summary))
	assert.Equal(t, "/app/work", summary.Path)
	assert.Equal(t, 2, summary.Queries)
}
