package server_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/authority/memory"
	"github.com/omalloc/chunksync/conf"
	"github.com/omalloc/chunksync/controller"
	"github.com/omalloc/chunksync/internal/constants"
	"github.com/omalloc/chunksync/server"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Authority, *controller.Controller) {
	t.Helper()

	remote := memory.Generate("k", 5)
	ctrl := controller.New(remote)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(func() { _ = ctrl.Shutdown(context.Background()) })

	srv := server.NewServer(&conf.Server{}, nil, ctrl, nil,
		server.WithStatus("extra", func() any { return "ok" }))
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return ts, remote, ctrl
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, buf
}

func TestGetChunk(t *testing.T) {
	ts, remote, _ := newTestServer(t)
	want, _ := remote.Get("k-000001")

	resp, buf := get(t, ts.URL+"/chunks/k-000001")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, want.EncodedHash, resp.Header.Get(constants.ChunkHashKey))
	assert.Equal(t, want.LastUpdate, resp.Header.Get(constants.ChunkLastUpdateKey))
	assert.Equal(t, "READY", resp.Header.Get(constants.ChunkStateKey))

	var got chunk.Chunk
	require.NoError(t, json.Unmarshal(buf, &got))
	assert.Equal(t, want.EncodedData, got.EncodedData)

	resp, buf = get(t, ts.URL+"/chunks/k-000001?raw=1")
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, want.EncodedData, buf)

	resp, _ = get(t, ts.URL+"/chunks/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetKeysAndStatus(t *testing.T) {
	ts, _, _ := newTestServer(t)

	_, buf := get(t, ts.URL+"/keys?prefix=k-00000&limit=2")
	var keys []string
	require.NoError(t, json.Unmarshal(buf, &keys))
	assert.Equal(t, []string{"k-000000", "k-000001"}, keys)

	resp, buf := get(t, ts.URL+"/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var st struct {
		Controller controller.Status `json:"controller"`
		Healthy    bool              `json:"healthy"`
		Extra      string            `json:"extra"`
	}
	require.NoError(t, json.Unmarshal(buf, &st))
	assert.Equal(t, "READY", st.Controller.State)
	assert.Equal(t, 5, st.Controller.Chunks)
	assert.True(t, st.Healthy)
	assert.Equal(t, "ok", st.Extra)

	resp, _ = get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, buf = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(buf), "tr_chunksync_store_chunks")
}

func TestReloadEndpoints(t *testing.T) {
	ts, remote, ctrl := newTestServer(t)

	remote.Set("k-000002", []byte("fresh"))
	resp, err := http.Post(ts.URL+"/reload/keys", "application/json", strings.NewReader(`{"keys":["k-000002"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, ok := ctrl.Lookup("k-000002")
	require.True(t, ok)
	assert.Equal(t, "fresh", string(got.EncodedData))

	resp, err = http.Post(ts.URL+"/reload/keys", "application/json", strings.NewReader(`{"keys":[""]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	remote.Delete("k-000004")
	resp, err = http.Post(ts.URL+"/reload", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, ctrl.Len())

	require.NoError(t, ctrl.Shutdown(context.Background()))
	resp, err = http.Post(ts.URL+"/reload", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
