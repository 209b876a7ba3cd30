package notify

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/samber/lo"

	"github.com/omalloc/chunksync/api/defined/v1/event"
	configv1 "github.com/omalloc/chunksync/api/defined/v1/plugin"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/listener"
	"github.com/omalloc/chunksync/metrics"
	"github.com/omalloc/chunksync/plugin"
)

// maxBody bounds a notification body.
const maxBody = 4 << 20

// Method lets a push arrive on any path, e.g. curl -X NOTIFY -d '["k1"]' http://host/.
const Method = "NOTIFY"

var _ configv1.Plugin = (*NotifyPlugin)(nil)

type option struct {
	AllowAddr []string `json:"allow-addr" yaml:"allow-addr"`
	// Source names this channel on the bus. default `http`
	Source string `json:"source" yaml:"source"`
}

// NotifyPlugin accepts change notifications over HTTP and publishes them
// on the chunk.changed topic.
type NotifyPlugin struct {
	log       *log.Helper
	opt       *option
	allowAddr map[string]struct{}
	publish   func(ctx context.Context, payload event.ChunkChanged)
	accepted  atomic.Int64
}

func init() {
	plugin.Register("notify", NewNotifyPlugin)
}

func NewNotifyPlugin(opts configv1.Option, host configv1.Host, log *log.Helper) (configv1.Plugin, error) {
	opt := &option{
		Source: "http",
	}
	if err := opts.Unmarshal(opt); err != nil {
		return nil, err
	}

	allowAddr := make(map[string]struct{}, len(opt.AllowAddr))
	for _, addr := range opt.AllowAddr {
		allowAddr[addr] = struct{}{}
	}

	return &NotifyPlugin{
		log:       log,
		opt:       opt,
		allowAddr: allowAddr,
		publish:   event.NewPublish(host.Bus(), event.ChunkChangedTopic),
	}, nil
}

func (r *NotifyPlugin) Start(ctx context.Context) error {
	return nil
}

func (r *NotifyPlugin) Stop(ctx context.Context) error {
	return nil
}

func (r *NotifyPlugin) AddRouter(router *http.ServeMux) {
	router.HandleFunc("POST /plugin/notify", r.serve)

	router.HandleFunc("GET /plugin/notify/stats", func(w http.ResponseWriter, req *http.Request) {
		payload, _ := json.Marshal(map[string]int64{"accepted": r.accepted.Load()})

		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Device-Plugin", "notify")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	})
}

func (r *NotifyPlugin) HandleFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		// skip not NOTIFY request.
		if req.Method != Method {
			next(w, req)
			return
		}
		r.serve(w, req)
	}
}

func (r *NotifyPlugin) serve(w http.ResponseWriter, req *http.Request) {
	m := metrics.FromContext(req.Context())
	m.Route = "notify"

	ip := clientIP(req.RemoteAddr)
	if len(r.allowAddr) > 0 {
		if _, ok := r.allowAddr[ip]; !ok {
			m.Result = "forbidden"
			r.reply(w, http.StatusForbidden, `{"message":"forbidden"}`)
			return
		}
	}

	buf, err := readAll(w, req)
	if err != nil {
		r.reply(w, http.StatusBadRequest, `{"message":"bad body"}`)
		return
	}

	keys, err := listener.DecodeNotification(buf)
	if err == nil {
		keys = lo.Uniq(lo.Compact(keys))
	}
	if err != nil || len(keys) == 0 {
		m.Result = "malformed"
		r.log.Warnf("notify request from %s dropped: %v", ip, err)
		r.reply(w, http.StatusBadRequest, `{"message":"malformed notification"}`)
		return
	}

	r.log.Debugf("notify request %s received: %d keys", ip, len(keys))
	r.publish(context.WithoutCancel(req.Context()), event.ChunkChanged{Keys: keys, Source: r.opt.Source})
	r.accepted.Add(int64(len(keys)))

	m.Result = "accepted"
	r.reply(w, http.StatusAccepted, `{"message":"accepted"}`)
}

func (r *NotifyPlugin) reply(w http.ResponseWriter, code int, body string) {
	_metricNotifyRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()

	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func readAll(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, req.Body, maxBody)
	defer body.Close()
	return io.ReadAll(body)
}
