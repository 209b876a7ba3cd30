package verifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/chunksync/api/defined/v1/event"
	pluginv1 "github.com/omalloc/chunksync/api/defined/v1/plugin"
	"github.com/omalloc/chunksync/authority/memory"
	"github.com/omalloc/chunksync/conf"
	"github.com/omalloc/chunksync/contrib/log"
)

type host struct {
	bus *event.Bus
}

func (h *host) Cache() pluginv1.Cache { return nil }
func (h *host) Bus() *event.Bus       { return h.bus }

func TestSum(t *testing.T) {
	data := []byte("hello chunk")

	sum, err := Sum(AlgorithmXXHash, data)
	require.NoError(t, err)
	assert.Equal(t, memory.Hash(data), sum)

	sum, err = Sum("CRC32", []byte("123456789"))
	require.NoError(t, err)
	assert.Equal(t, "cbf43926", sum)

	_, err = Sum("md4", data)
	assert.Error(t, err)
}

func TestSampled(t *testing.T) {
	assert.True(t, sampled("any", 100))
	assert.False(t, sampled("any", 0))
}

func TestUnknownAlgorithmRejected(t *testing.T) {
	_, err := NewVerifierPlugin(&conf.Plugin{Name: "verifier", Options: map[string]any{"algorithm": "sha0"}},
		&host{bus: event.NewBus()}, log.NewHelper(log.GetLogger()))
	assert.Error(t, err)
}

func TestVerifierReportsMismatch(t *testing.T) {
	var (
		mu      sync.Mutex
		reports []ReportPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p ReportPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))

		mu.Lock()
		reports = append(reports, p)
		mu.Unlock()
		if !p.Match {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bus := event.NewBus()
	publish := event.NewPublish(bus, event.ChunkAppliedTopic)

	p, err := NewVerifierPlugin(&conf.Plugin{Name: "verifier", Options: map[string]any{
		"endpoint":     srv.URL,
		"report_ratio": 100,
		"api_key":      "secret",
	}}, &host{bus: bus}, log.NewHelper(log.GetLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	good := []byte("payload")
	publish(context.Background(), event.ChunkApplied{Key: "k1", Data: good, EncodedHash: memory.Hash(good), LastUpdate: "1"})
	publish(context.Background(), event.ChunkApplied{Key: "k2", Data: good, EncodedHash: "deadbeef", LastUpdate: "2"})
	publish(context.Background(), event.ChunkApplied{Key: "k3", Deleted: true, LastUpdate: "3"})
	// same version again, e.g. from a full reload
	publish(context.Background(), event.ChunkApplied{Key: "k1", Data: good, EncodedHash: memory.Hash(good), LastUpdate: "1", Full: true})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) == 2
	}, time.Second, 5*time.Millisecond)

	v := p.(*verifier)
	assert.EqualValues(t, 2, v.checked.Load())
	assert.EqualValues(t, 1, v.mismatch.Load())

	mu.Lock()
	defer mu.Unlock()
	byKey := map[string]ReportPayload{}
	for _, r := range reports {
		byKey[r.Key] = r
	}
	assert.True(t, byKey["k1"].Match)
	assert.False(t, byKey["k2"].Match)
	assert.Equal(t, "deadbeef", byKey["k2"].Expected)
}

func TestVerifierStoppedIgnoresEvents(t *testing.T) {
	bus := event.NewBus()
	publish := event.NewPublish(bus, event.ChunkAppliedTopic)

	p, err := NewVerifierPlugin(&conf.Plugin{Name: "verifier", Options: map[string]any{"report_ratio": 100}},
		&host{bus: bus}, log.NewHelper(log.GetLogger()))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(context.Background()))

	publish(context.Background(), event.ChunkApplied{Key: "k1", Data: []byte("x"), EncodedHash: "bad"})
	time.Sleep(20 * time.Millisecond)

	mux := http.NewServeMux()
	p.AddRouter(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plugin/verifier/stats", nil))
	assert.JSONEq(t, `{"checked":0,"mismatch":0}`, w.Body.String())
}
