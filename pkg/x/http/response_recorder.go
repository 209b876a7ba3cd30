package http

import (
	"bufio"
	"net"
	"net/http"
)

var (
	_ http.Hijacker = (*ResponseRecorder)(nil)
	_ http.Flusher  = (*ResponseRecorder)(nil)
)

// ResponseRecorder remembers the status and body size written through it
// for the access log and the request metrics.
type ResponseRecorder struct {
	http.ResponseWriter

	status int
	size   uint64
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w}
}

func (r *ResponseRecorder) Write(b []byte) (n int, err error) {
	if r.status == 0 {
		// The status will be StatusOK if WriteHeader has not been called yet
		r.status = http.StatusOK
	}

	n, err = r.ResponseWriter.Write(b)
	if err == nil {
		r.size += uint64(n)
	}
	return n, err
}

func (r *ResponseRecorder) WriteHeader(s int) {
	if r.status != 0 {
		return
	}
	r.ResponseWriter.WriteHeader(s)
	r.status = s
}

// Flush implements http.Flusher for streaming handlers.
func (r *ResponseRecorder) Flush() {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *ResponseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack implements http.Hijacker.
func (r *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrHijacked
}

// Status returns the written status, 200 when nothing was written.
func (r *ResponseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *ResponseRecorder) Size() uint64 {
	return r.size
}

func (r *ResponseRecorder) SentBytes() uint64 {
	return ResponseHeaderSize(r.Status(), r.Header()) + r.Size()
}

func ResponseHeaderSize(code int, hdr http.Header) uint64 {
	// example: HTTP/1.1 200 OK\r\n
	n := uint64(len(http.StatusText(code))) + 15

	// headers
	// Server: nginx/1.20.1\r\n
	for k, v := range hdr {
		n += uint64(len(k) + 4)
		for _, s := range v {
			n += uint64(len(s))
		}
	}

	// \r\n
	n += 2
	return n
}
