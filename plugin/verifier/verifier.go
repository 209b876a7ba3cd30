package verifier

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/omalloc/chunksync/api/defined/v1/event"
	pluginv1 "github.com/omalloc/chunksync/api/defined/v1/plugin"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/plugin"
)

var _ pluginv1.Plugin = (*verifier)(nil)

type verifierOptions struct {
	// Endpoint receives a report for every sampled chunk. Empty disables reporting.
	Endpoint    string        `json:"endpoint"`
	Timeout     time.Duration `json:"timeout"`
	ReportRatio int           `json:"report_ratio"`
	Algorithm   string        `json:"algorithm"`
	ApiKey      string        `json:"api_key"`
	// SeenSize bounds the versions remembered as verified.
	SeenSize int `json:"seen_size"`
}

type verifier struct {
	log          *log.Helper
	bus          *event.Bus
	reportClient *http.Client
	opt          *verifierOptions
	// seen holds key@version pairs already verified; full reloads re-apply them.
	seen *lru.Cache[string, struct{}]

	running  atomic.Bool
	checked  atomic.Int64
	mismatch atomic.Int64
}

func init() {
	plugin.Register("verifier", NewVerifierPlugin)
}

func NewVerifierPlugin(opts pluginv1.Option, host pluginv1.Host, log *log.Helper) (pluginv1.Plugin, error) {
	opt := &verifierOptions{
		Timeout:     5 * time.Second,
		ReportRatio: 1,
		Algorithm:   AlgorithmXXHash,
		SeenSize:    4096,
	}

	if err := opts.Unmarshal(opt); err != nil {
		return nil, err
	}
	if _, err := Sum(opt.Algorithm, nil); err != nil {
		return nil, err
	}

	seen, err := lru.New[string, struct{}](max(opt.SeenSize, 1))
	if err != nil {
		return nil, err
	}

	log.Debugf("load config %#+v", opt)

	return &verifier{
		seen:         seen,
		log:          log,
		bus:          host.Bus(),
		reportClient: &http.Client{Timeout: opt.Timeout},
		opt:          opt,
	}, nil
}

// AddRouter implements [plugin.Plugin].
func (v *verifier) AddRouter(router *http.ServeMux) {
	router.HandleFunc("GET /plugin/verifier/stats", func(w http.ResponseWriter, r *http.Request) {
		payload, _ := json.Marshal(map[string]int64{
			"checked":  v.checked.Load(),
			"mismatch": v.mismatch.Load(),
		})

		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	})
}

// HandleFunc implements [plugin.Plugin].
func (v *verifier) HandleFunc(next http.HandlerFunc) http.HandlerFunc {
	return next
}

// Start implements [plugin.Plugin].
func (v *verifier) Start(context.Context) error {
	if v.running.Swap(true) {
		return nil
	}

	if err := event.Subscribe(v.bus, event.ChunkAppliedTopic, v.eventLoop); err != nil {
		v.log.Errorf("handle event %s failed: %v", event.ChunkAppliedKey, err)
		return err
	}
	return nil
}

// Stop implements [plugin.Plugin].
func (v *verifier) Stop(context.Context) error {
	v.running.Store(false)
	return nil
}

func (v *verifier) eventLoop(ctx context.Context, payload event.ChunkApplied) {
	if !v.running.Load() || payload.Deleted {
		return
	}

	// check report ratio
	if !sampled(payload.Key, v.opt.ReportRatio) {
		return
	}

	version := payload.Key + "@" + payload.LastUpdate + "@" + payload.EncodedHash
	if ok, _ := v.seen.ContainsOrAdd(version, struct{}{}); ok {
		return
	}

	sum, err := Sum(v.opt.Algorithm, payload.Data)
	if err != nil {
		return
	}

	v.checked.Add(1)
	match := strings.EqualFold(sum, payload.EncodedHash)
	if match {
		_metricVerifierChecksTotal.WithLabelValues("match").Inc()
	} else {
		v.mismatch.Add(1)
		_metricVerifierChecksTotal.WithLabelValues("mismatch").Inc()
		v.log.Warnf("chunk %s@%s hash mismatch: expected %s got %s", payload.Key, payload.LastUpdate, payload.EncodedHash, sum)
	}

	if v.opt.Endpoint == "" {
		return
	}

	v.report(context.WithoutCancel(ctx), ReportPayload{
		Key:        payload.Key,
		Hash:       sum,
		Expected:   payload.EncodedHash,
		LastUpdate: payload.LastUpdate,
		Size:       len(payload.Data),
		Match:      match,
	})
}

func (v *verifier) report(ctx context.Context, reportPayload ReportPayload) {
	buf, err := json.Marshal(reportPayload)
	if err != nil {
		v.log.Errorf("marshal report payload failed: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.opt.Endpoint, bytes.NewReader(buf))
	if err != nil {
		v.log.Errorf("create report request failed: %v", err)
		return
	}

	if v.opt.ApiKey != "" {
		req.Header.Set("Authorization", v.opt.ApiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	// do request to verifier center.
	resp, err := v.reportClient.Do(req)
	if err != nil {
		_metricVerifierRequestsTotal.WithLabelValues("0").Inc()
		v.log.Errorf("send report request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	_metricVerifierRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusConflict {
		v.log.Errorf("report verifier hash conflict for %s: %s", reportPayload.Key, resp.Status)
		return
	}

	if resp.StatusCode != http.StatusOK {
		v.log.Errorf("report verifier result failed: %s", resp.Status)
		return
	}

	v.log.Debugf("report verifier result success: %s", resp.Status)
}

type ReportPayload struct {
	Key        string `json:"key"`
	Hash       string `json:"hash"`
	Expected   string `json:"expected"`
	LastUpdate string `json:"last_update"`
	Size       int    `json:"size"`
	Match      bool   `json:"match"`
}
