package mod

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omalloc/chunksync/internal/constants"
	"github.com/omalloc/chunksync/metrics"
	xhttp "github.com/omalloc/chunksync/pkg/x/http"
)

// Field order of one access log line. cmd/tq depends on it.
const (
	FieldClientIP = iota
	FieldHost
	FieldContentType
	FieldRequestTime
	FieldRequestTimeZone
	FieldMethod
	FieldPath
	FieldStatus
	FieldSentBytes
	FieldUserAgent
	FieldResponseTime
	FieldBodySize
	FieldRequestBytes
	FieldRoute
	FieldResult
	FieldRequestID
)

// FieldNames labels every field of an access log line, in order. The
// request time spans two fields; the zone carries no label of its own.
var FieldNames = []string{
	FieldClientIP:        "Client-Ip",
	FieldHost:            "Host",
	FieldContentType:     "Content-Type",
	FieldRequestTime:     "RequestTime",
	FieldRequestTimeZone: "",
	FieldMethod:          "Method",
	FieldPath:            "Path",
	FieldStatus:          "ResponseStatus",
	FieldSentBytes:       "SentBytes(header+body)",
	FieldUserAgent:       "UserAgent",
	FieldResponseTime:    "ResponseTime(ms)",
	FieldBodySize:        "BodySize",
	FieldRequestBytes:    "RequestBytes",
	FieldRoute:           "Route",
	FieldResult:          "Result",
	FieldRequestID:       "RequestID",
}

// fillRequest makes sure every request carries a request id.
func fillRequest(req *http.Request) {
	if req.Header.Get(constants.RequestIDKey) == "" {
		req.Header.Set(constants.RequestIDKey, metrics.MustParseRequestID(req.Header))
	}
	if req.Host == "" {
		req.Host = req.URL.Host
	}
}

// WithNormalFields renders the access log line of a finished request.
func WithNormalFields(req *http.Request, rec *xhttp.ResponseRecorder) []byte {
	m := metrics.FromContext(req.Context())

	clientIP := req.RemoteAddr
	if host, _, ok := strings.Cut(clientIP, ":"); ok && !strings.Contains(host, "[") {
		clientIP = host
	}

	start := m.StartAt
	if start.IsZero() {
		start = time.Now()
	}

	path := req.URL.EscapedPath()
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	fields := []string{
		FieldClientIP:        orDash(clientIP),
		FieldHost:            orDash(req.Host),
		FieldContentType:     orDash(escape(rec.Header().Get("Content-Type"))),
		FieldRequestTime:     start.Format("[02/Jan/2006:15:04:05"),
		FieldRequestTimeZone: start.Format("-0700]"),
		FieldMethod:          req.Method,
		FieldPath:            orDash(path),
		FieldStatus:          strconv.Itoa(rec.Status()),
		FieldSentBytes:       strconv.FormatUint(rec.SentBytes(), 10),
		FieldUserAgent:       orDash(escape(req.UserAgent())),
		FieldResponseTime:    strconv.FormatInt(time.Since(start).Milliseconds(), 10),
		FieldBodySize:        strconv.FormatUint(rec.Size(), 10),
		FieldRequestBytes:    strconv.FormatInt(max(req.ContentLength, 0), 10),
		FieldRoute:           orDash(escape(m.Route)),
		FieldResult:          orDash(m.Result),
		FieldRequestID:       orDash(m.RequestID),
	}
	return []byte(strings.Join(fields, " "))
}

func escape(s string) string {
	return url.PathEscape(s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
