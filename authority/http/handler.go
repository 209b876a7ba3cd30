package http

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/internal/constants"
)

// maxKeysPerRequest bounds the body of POST /chunks/keys.
const maxKeysPerRequest = 10000

// Handler serves an Authority in the HTTP wire format.
type Handler struct {
	src chunk.Authority
	hub *Hub
	mux *http.ServeMux
	log *log.Helper
}

// NewHandler returns a handler for src. A nil hub disables /push.
func NewHandler(src chunk.Authority, hub *Hub) *Handler {
	h := &Handler{
		src: src,
		hub: hub,
		mux: http.NewServeMux(),
		log: log.NewHelper(log.With(log.GetLogger(), "module", "authority/http")),
	}
	h.mux.HandleFunc("GET "+PathPage, h.page)
	h.mux.HandleFunc("POST "+PathKeys, h.keys)
	h.mux.HandleFunc("GET "+PathCount, h.count)
	if hub != nil {
		h.mux.Handle("GET "+PathPush, hub)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rid := r.Header.Get(constants.RequestIDKey); rid != "" {
		w.Header().Set(constants.RequestIDKey, rid)
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	offset, err1 := strconv.Atoi(r.URL.Query().Get("offset"))
	count, err2 := strconv.Atoi(r.URL.Query().Get("count"))
	if err1 != nil || err2 != nil || offset < 0 || count <= 0 {
		writeError(w, http.StatusBadRequest, "offset and count are required")
		return
	}

	chunks, err := h.src.FetchPage(r.Context(), offset, count)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	total := -1
	if counter, ok := h.src.(chunk.Counter); ok {
		if n, err := counter.Count(r.Context()); err == nil {
			total = n
		}
	}
	if chunks == nil {
		chunks = []*chunk.Chunk{}
	}
	writeJSON(w, http.StatusOK, PageResponse{Chunks: chunks, Total: total})
}

func (h *Handler) keys(w http.ResponseWriter, r *http.Request) {
	var req KeysRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if len(req.Keys) > maxKeysPerRequest {
		writeError(w, http.StatusRequestEntityTooLarge, "too many keys")
		return
	}

	chunks, err := h.src.FetchKeys(r.Context(), req.Keys)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []*chunk.Chunk{}
	}
	writeJSON(w, http.StatusOK, KeysResponse{Chunks: chunks})
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	counter, ok := h.src.(chunk.Counter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "count not supported")
		return
	}
	n, err := counter.Count(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Total: n})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Warnf("%s %s failed: %v", r.Method, r.URL.Path, err)
	writeError(w, http.StatusServiceUnavailable, err.Error())
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

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
