package listener_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/chunksync/listener"
)

func TestWebsocketSource(t *testing.T) {
	var (
		upgrader = websocket.Upgrader{}
		conns    atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if conns.Add(1) == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"keys":["a","b"]}`))
			// drop the first session to force a reconnect
			time.Sleep(20 * time.Millisecond)
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`["c"]`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	r := &fakeReloader{}
	l := newListener(t, r, listener.WithWindow(5*time.Millisecond))
	src := listener.NewWebsocketSource("ws"+strings.TrimPrefix(srv.URL, "http"), l,
		listener.WithReconnect(5*time.Millisecond, 20*time.Millisecond),
		listener.WithPingInterval(10*time.Millisecond),
	)

	require.NoError(t, src.Start(context.Background()))

	assert.Eventually(t, func() bool {
		batches, full := r.snapshot()
		return len(batches) == 2 && full == 1
	}, 2*time.Second, 5*time.Millisecond)

	batches, _ := r.snapshot()
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"c"}, batches[1])
	assert.True(t, src.Connected())

	require.NoError(t, src.Stop(context.Background()))
	assert.False(t, src.Connected())
}

func TestWebsocketSourceRetriesDial(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	l := newListener(t, &fakeReloader{})
	src := listener.NewWebsocketSource("ws"+strings.TrimPrefix(srv.URL, "http"), l,
		listener.WithReconnect(time.Millisecond, 5*time.Millisecond))

	require.NoError(t, src.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, src.Connected())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, src.Stop(ctx))
}
