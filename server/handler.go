package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/internal/constants"
	"github.com/omalloc/chunksync/listener"
	"github.com/omalloc/chunksync/metrics"
	"github.com/omalloc/chunksync/pkg/x/runtime"
)

type errorBody struct {
	Error string `json:"error"`
}

type reloadKeysBody struct {
	Keys int `json:"keys"`
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /chunks/{key...}", s.getChunk)
	mux.HandleFunc("GET /keys", s.getKeys)
	mux.HandleFunc("GET /status", s.getStatus)
	mux.HandleFunc("GET /healthz", s.getHealth)
	mux.HandleFunc("GET /version", s.getVersion)
	mux.HandleFunc("POST /reload", s.postReload)
	mux.HandleFunc("POST /reload/keys", s.postReloadKeys)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *HTTPServer) getChunk(w http.ResponseWriter, req *http.Request) {
	m := metrics.FromContext(req.Context())
	m.Route = req.Pattern

	key := req.PathValue("key")
	c, ok := s.cache.Lookup(key)
	if !ok {
		m.Result = "miss"
		writeJSON(w, http.StatusNotFound, errorBody{Error: "chunk not found"})
		return
	}
	m.Result = "hit"

	h := w.Header()
	h.Set(constants.ChunkHashKey, c.EncodedHash)
	h.Set(constants.ChunkLastUpdateKey, c.LastUpdate)
	h.Set(constants.ChunkStateKey, s.cache.State().String())

	if raw := req.URL.Query().Get("raw"); raw == "1" || raw == "true" {
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Length", strconv.Itoa(len(c.EncodedData)))
		w.WriteHeader(http.StatusOK)
		if req.Method != http.MethodHead {
			_, _ = w.Write(c.EncodedData)
		}
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *HTTPServer) getKeys(w http.ResponseWriter, req *http.Request) {
	metrics.FromContext(req.Context()).Route = req.Pattern

	keys := s.cache.Keys()
	if prefix := req.URL.Query().Get("prefix"); prefix != "" {
		keys = lo.Filter(keys, func(k string, _ int) bool {
			return strings.HasPrefix(k, prefix)
		})
	}
	if limit, err := strconv.Atoi(req.URL.Query().Get("limit")); err == nil && limit >= 0 && limit < len(keys) {
		keys = keys[:limit]
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *HTTPServer) getStatus(w http.ResponseWriter, req *http.Request) {
	metrics.FromContext(req.Context()).Route = req.Pattern

	out := map[string]any{
		"controller": s.cache.Status(),
		"healthy":    s.healthy(),
	}
	for name, fn := range s.sections {
		out[name] = fn()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) getHealth(w http.ResponseWriter, req *http.Request) {
	metrics.FromContext(req.Context()).Route = req.Pattern

	w.Header().Set(constants.ChunkStateKey, s.cache.State().String())
	if !s.healthy() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.cache.State().String()})
}

func (s *HTTPServer) getVersion(w http.ResponseWriter, req *http.Request) {
	metrics.FromContext(req.Context()).Route = req.Pattern
	writeJSON(w, http.StatusOK, runtime.BuildInfo)
}

func (s *HTTPServer) postReload(w http.ResponseWriter, req *http.Request) {
	m := metrics.FromContext(req.Context())
	m.Route = req.Pattern

	if req.URL.Query().Get("async") == "1" {
		go func() {
			if err := s.cache.Reload(context.WithoutCancel(req.Context())); err != nil {
				log.Warnf("async reload failed: %v", err)
			}
		}()
		m.Result = "accepted"
		writeJSON(w, http.StatusAccepted, s.cache.Status())
		return
	}

	if err := s.cache.Reload(req.Context()); err != nil {
		m.Result = "error"
		writeReloadError(w, err)
		return
	}
	m.Result = "ok"
	writeJSON(w, http.StatusOK, s.cache.Status())
}

func (s *HTTPServer) postReloadKeys(w http.ResponseWriter, req *http.Request) {
	m := metrics.FromContext(req.Context())
	m.Route = req.Pattern

	buf, err := readBody(w, req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	keys, err := listener.DecodeNotification(buf)
	if err != nil {
		m.Result = "malformed"
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	keys = lo.Uniq(lo.Compact(keys))
	if len(keys) == 0 {
		m.Result = "malformed"
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "no keys"})
		return
	}

	if err := s.cache.ReloadKeys(req.Context(), keys); err != nil {
		m.Result = "error"
		writeReloadError(w, err)
		return
	}
	m.Result = "ok"
	writeJSON(w, http.StatusOK, reloadKeysBody{Keys: len(keys)})
}

func (s *HTTPServer) healthy() bool {
	return s.cache.State() == chunk.StateReady && s.recovery.Healthy()
}

func readBody(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, req.Body, 8<<20)
	defer body.Close()
	return io.ReadAll(body)
}

func writeReloadError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, chunk.ErrStopped), errors.Is(err, chunk.ErrLoadAborted):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.WriteHeader(code)
	_, _ = w.Write(buf)
}

func statusText(code int) string {
	return strconv.Itoa(code)
}
