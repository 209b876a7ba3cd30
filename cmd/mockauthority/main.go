package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	authhttp "github.com/omalloc/chunksync/authority/http"
	"github.com/omalloc/chunksync/authority/memory"
	"github.com/omalloc/chunksync/contrib/log"
)

var (
	flagPort     int
	flagChunks   int
	flagPrefix   string
	flagSize     int
	flagInterval time.Duration
	flagLatency  time.Duration
	flagDelete   int
)

func init() {
	flag.IntVar(&flagPort, "p", 8000, "usage port")
	flag.IntVar(&flagChunks, "n", 1000, "initial chunk count")
	flag.StringVar(&flagPrefix, "prefix", "cell", "chunk key prefix")
	flag.IntVar(&flagSize, "size", 256, "payload size of a mutated chunk")
	flag.DurationVar(&flagInterval, "interval", time.Second, "mutation interval, 0 disables mutations")
	flag.DurationVar(&flagLatency, "latency", 0, "delay added to every fetch")
	flag.IntVar(&flagDelete, "delete", 10, "percent of mutations that delete a chunk")
}

func main() {
	flag.Parse()

	log.SetLogger(log.With(log.NewZapLogger(log.ZapOption{}),
		"ts", log.Timestamp(time.RFC3339), "app", "mockauthority", "pid", os.Getpid()))

	src := memory.Generate(flagPrefix, flagChunks)
	src.SetLatency(flagLatency)

	hub := authhttp.NewHub()
	defer hub.Close()

	src.Watch(hub.Broadcast)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flagInterval > 0 {
		go mutate(ctx, src)
	}

	addr := fmt.Sprintf(":%d", flagPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: logging(authhttp.NewHandler(src, hub)),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("HTTP server listener on %s with %d chunks", addr, src.Len())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("listen %s: %v", addr, err)
	}
}

// mutate rewrites or deletes a random chunk every interval. Watchers
// push the changed key to every subscriber.
func mutate(ctx context.Context, src *memory.Authority) {
	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			key := fmt.Sprintf("%s-%06d", flagPrefix, mrand.IntN(max(flagChunks, 1)))
			if mrand.IntN(100) < flagDelete {
				src.Delete(key)
				log.Debugf("deleted %s", key)
				continue
			}

			buf := make([]byte, flagSize)
			_, _ = rand.Read(buf)
			c := src.Set(key, buf)
			log.Debugf("updated %s@%s hash=%s", c.Key, c.LastUpdate, c.EncodedHash)
		}
	}
}

func logging(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Infof("%s %s", r.Method, r.URL.String())

		next.ServeHTTP(w, r)
	}
}
