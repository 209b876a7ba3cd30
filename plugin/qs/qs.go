package qs

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	configv1 "github.com/omalloc/chunksync/api/defined/v1/plugin"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/metrics"
	"github.com/omalloc/chunksync/pkg/algorithm/heavykeeper"
	"github.com/omalloc/chunksync/pkg/x/runtime"
	"github.com/omalloc/chunksync/plugin"
)

var _ configv1.Plugin = (*QsPlugin)(nil)

type Graph struct {
	Data      map[string]float64 `json:"data"`
	HotKeys   []heavykeeper.Item `json:"hot_keys"`
	State     string             `json:"state"`
	StartedAt int64              `json:"started_at"`
}

type SimpleChunk struct {
	Key        string `json:"key"`
	Size       int    `json:"size"`
	Hash       string `json:"hash"`
	LastUpdate string `json:"last_update"`
}

type option struct {
	TopK     int           `json:"top_k"`
	Idle     time.Duration `json:"idle"`
	DiskPath string        `json:"disk_path"`
}

type QsPlugin struct {
	log   *log.Helper
	opt   *option
	cache configv1.Cache

	mu           sync.RWMutex
	ctrlMu       sync.Mutex
	collect      atomic.Bool
	lastReq      atomic.Int64
	cancel       context.CancelFunc
	smoothedData map[string]float64
	hotKeys      *heavykeeper.TopK
	cpuPercent   atomic.Uint32
	memUsage     atomic.Uint64
	memTotal     atomic.Uint64
	diskUsage    atomic.Uint64
	diskTotal    atomic.Uint64
}

func init() {
	plugin.Register("qs", NewQsPlugin)
}

func NewQsPlugin(opts configv1.Option, host configv1.Host, log *log.Helper) (configv1.Plugin, error) {
	opt := &option{
		TopK:     10,
		Idle:     5 * time.Second,
		DiskPath: "/",
	}
	if err := opts.Unmarshal(opt); err != nil {
		return nil, err
	}
	return &QsPlugin{
		log:          log,
		opt:          opt,
		cache:        host.Cache(),
		smoothedData: make(map[string]float64),
		hotKeys:      heavykeeper.NewTopK(opt.TopK, 4, 2048, 0.9),
	}, nil
}

// HandleFunc implements plugin.Plugin.
func (qs *QsPlugin) HandleFunc(next http.HandlerFunc) http.HandlerFunc {
	return next
}

// AddRouter implements plugin.Plugin.
func (qs *QsPlugin) AddRouter(router *http.ServeMux) {
	router.HandleFunc("GET /plugin/qs/hotkeys", func(w http.ResponseWriter, r *http.Request) {
		qs.touchOrStart()
		writeJSON(w, qs.hotKeys.List())
	})

	router.HandleFunc("GET /plugin/qs/chunks", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		keys := lo.Filter(qs.cache.Keys(), func(k string, _ int) bool {
			return strings.HasPrefix(k, prefix)
		})

		chunks := make([]*SimpleChunk, 0, len(keys))
		for _, k := range keys {
			c, ok := qs.cache.Lookup(k)
			if !ok {
				continue
			}
			chunks = append(chunks, &SimpleChunk{
				Key:        c.Key,
				Size:       c.Size(),
				Hash:       c.EncodedHash,
				LastUpdate: c.LastUpdate,
			})
		}
		writeJSON(w, chunks)
	})

	router.HandleFunc("GET /plugin/qs/graph", func(w http.ResponseWriter, r *http.Request) {
		// Set headers for SSE
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
			return
		}

		if r.Context().Err() != nil {
			return
		}

		qs.touchOrStart()
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				qs.touchOrStart()

				buf, err := json.Marshal(qs.graph())
				if err != nil {
					continue
				}

				if _, err = fmt.Fprintf(w, "data: %s\n\n", buf); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

// Start implements plugin.Plugin.
func (qs *QsPlugin) Start(context.Context) error {
	qs.cache.ObserveLookups(func(key string, hit bool) {
		if hit && qs.collect.Load() {
			qs.hotKeys.Add(key)
		}
	})
	return nil
}

// Stop implements plugin.Plugin.
func (qs *QsPlugin) Stop(context.Context) error {
	qs.ctrlMu.Lock()
	defer qs.ctrlMu.Unlock()

	if qs.cancel != nil {
		qs.cancel()
		qs.cancel = nil
	}
	qs.collect.Store(false)
	return nil
}

func (qs *QsPlugin) graph() Graph {
	return Graph{
		Data:      qs.collectData(),
		HotKeys:   qs.hotKeys.List(),
		State:     qs.cache.State().String(),
		StartedAt: runtime.BuildInfo.StartedAt,
	}
}

// touchOrStart starts the collectors if not running, or updates the last request time.
func (qs *QsPlugin) touchOrStart() {
	qs.lastReq.Store(time.Now().UnixNano())
	if qs.collect.Load() {
		return
	}

	qs.ctrlMu.Lock()
	defer qs.ctrlMu.Unlock()

	if qs.collect.Load() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	qs.cancel = cancel
	qs.collect.Store(true)

	go qs.tickRates(ctx)
	go qs.tickUsage(ctx)
	go qs.tickMonitor(ctx)
}

// tickMonitor stops the collectors when nobody asked for a while.
func (qs *QsPlugin) tickMonitor(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, qs.lastReq.Load())) <= qs.opt.Idle {
				continue
			}

			qs.ctrlMu.Lock()
			// double check
			if time.Since(time.Unix(0, qs.lastReq.Load())) > qs.opt.Idle {
				if qs.cancel != nil {
					qs.cancel()
					qs.cancel = nil
				}
				qs.collect.Store(false)
				qs.hotKeys.Reset()
				qs.ctrlMu.Unlock()
				return
			}
			qs.ctrlMu.Unlock()
		}
	}
}

// tickRates smooths the per-second rates of the lookup, request and
// notification counters.
func (qs *QsPlugin) tickRates(ctx context.Context) {
	smoothers := map[string]*metrics.CounterSmoother{}
	smooth := func(name string, v float64) float64 {
		s, ok := smoothers[name]
		if !ok {
			s = &metrics.CounterSmoother{Alpha: 0.3}
			smoothers[name] = s
		}
		return s.Update(v)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			families := metrics.Gather()
			if families == nil {
				continue
			}

			temp := make(map[string]float64)

			lookups := metrics.Values(families, metrics.LookupsTotal, "result")
			temp["hit"] = smooth("hit", lookups["hit"])
			temp["miss"] = smooth("miss", lookups["miss"])
			temp["lookups"] = temp["hit"] + temp["miss"]
			if total := lookups["hit"] + lookups["miss"]; total > 0 {
				temp["hit_ratio"] = lookups["hit"] / total * 100
			}

			for code, v := range metrics.Values(families, metrics.RequestsCodeTotalName, "code") {
				class := codeClass(code)
				temp[class] += smooth("code_"+code, v)
				temp["requests"] += smooth("req_"+code, v)
			}

			notified := metrics.Values(families, metrics.NotificationsTotal, "result")
			temp["notifications"] = smooth("notifications", notified["received"])
			temp["store_chunks"] = metrics.Values(families, metrics.StoreChunks, "")[""]

			qs.mu.Lock()
			qs.smoothedData = temp
			qs.mu.Unlock()
		}
	}
}

func (qs *QsPlugin) tickUsage(ctx context.Context) {
	collect := func() {
		percent, err := cpu.Percent(0, false)
		if err == nil && len(percent) > 0 {
			qs.cpuPercent.Store(uint32(percent[0]))
		}

		if vmem, err := mem.VirtualMemory(); err == nil {
			qs.memUsage.Store(vmem.Used)
			qs.memTotal.Store(vmem.Total)
		}

		if usage, err := disk.Usage(qs.opt.DiskPath); err == nil {
			qs.diskUsage.Store(usage.Used)
			qs.diskTotal.Store(usage.Total)
		}
	}

	// collect once at the beginning
	collect()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collect()
		}
	}
}

func (qs *QsPlugin) collectData() map[string]float64 {
	qs.mu.RLock()
	data := make(map[string]float64, len(qs.smoothedData)+5)
	for k, v := range qs.smoothedData {
		data[k] = v
	}
	qs.mu.RUnlock()

	data["cpu_percent"] = float64(qs.cpuPercent.Load())
	data["mem_usage"] = float64(qs.memUsage.Load())
	data["mem_total"] = float64(qs.memTotal.Load())
	data["disk_usage"] = float64(qs.diskUsage.Load())
	data["disk_total"] = float64(qs.diskTotal.Load())
	return data
}

func codeClass(code string) string {
	n, err := strconv.Atoi(code)
	if err != nil || n < 100 {
		return "other"
	}
	return strconv.Itoa(n/100) + "xx"
}

func writeJSON(w http.ResponseWriter, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
