package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/internal/constants"
)

type requestMetricKey struct{}

// RequestMetric follows one admin API request through the handlers.
type RequestMetric struct {
	StartAt    time.Time
	RequestID  string
	RecvReq    uint64
	SentResp   uint64
	RemoteAddr string
	// Route is the matched pattern, e.g. "GET /chunks/{key}".
	Route string
	// Result is a short handler outcome, e.g. "hit" or "miss".
	Result string
}

func (r *RequestMetric) Clone() *RequestMetric {
	out := *r
	return &out
}

func WithRequestMetric(req *http.Request) (*http.Request, *RequestMetric) {
	metric := &RequestMetric{
		StartAt:    time.Now(),
		RequestID:  MustParseRequestID(req.Header),
		RemoteAddr: req.RemoteAddr,
	}
	return req.WithContext(newContext(req.Context(), metric)), metric
}

func FromContext(ctx context.Context) *RequestMetric {
	if v, ok := ctx.Value(requestMetricKey{}).(*RequestMetric); ok {
		return v
	}
	return &RequestMetric{}
}

func NewContext(ctx context.Context, metric *RequestMetric) context.Context {
	return newContext(ctx, metric)
}

func newContext(ctx context.Context, metric *RequestMetric) context.Context {
	return context.WithValue(ctx, requestMetricKey{}, metric)
}

// MustParseRequestID returns the X-Request-ID header or a fresh uuid.
func MustParseRequestID(h http.Header) string {
	if id := h.Get(constants.RequestIDKey); id != "" {
		return id
	}
	return uuid.NewString()
}

func RequestID() log.Valuer {
	return func(ctx context.Context) interface{} {
		if ctx == nil {
			return ""
		}

		if info := FromContext(ctx); info != nil {
			return info.RequestID
		}
		return ""
	}
}
