package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/api/defined/v1/event"
	pluginv1 "github.com/omalloc/chunksync/api/defined/v1/plugin"
	authhttp "github.com/omalloc/chunksync/authority/http"
	"github.com/omalloc/chunksync/conf"
	"github.com/omalloc/chunksync/contrib/config"
	"github.com/omalloc/chunksync/contrib/config/provider/file"
	"github.com/omalloc/chunksync/contrib/kratos"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/contrib/transport"
	"github.com/omalloc/chunksync/controller"
	"github.com/omalloc/chunksync/listener"
	"github.com/omalloc/chunksync/loader"
	"github.com/omalloc/chunksync/pkg/x/runtime"
	"github.com/omalloc/chunksync/plugin"
	_ "github.com/omalloc/chunksync/plugin/notify"
	_ "github.com/omalloc/chunksync/plugin/qs"
	_ "github.com/omalloc/chunksync/plugin/verifier"
	"github.com/omalloc/chunksync/server"
	"github.com/omalloc/chunksync/storage/snapshot"
	_ "github.com/omalloc/chunksync/storage/snapshot/nutsdb"
	_ "github.com/omalloc/chunksync/storage/snapshot/pebble"
)

var (
	id, _ = os.Hostname()

	// flagConf is the config flag.
	flagConf string = "config.yaml"
	// flagVerbose is the verbose flag.
	flagVerbose bool

	// Version is the version of the app.
	Version string = "no-set"
	GitHash string = "no-set"
	Built   string = "0"
)

func init() {
	// init flag
	flag.StringVar(&flagConf, "c", "config.yaml", "config file path")
	flag.BoolVar(&flagVerbose, "v", false, "enable verbose log")

	// init logger
	log.SetLogger(log.With(log.DefaultLogger, "ts", log.Timestamp(time.RFC3339), "pid", os.Getpid()))

	// init prometheus
	prometheus.Unregister(collectors.NewGoCollector())
	registerer := prometheus.WrapRegistererWithPrefix("tr_chunksync_", prometheus.DefaultRegisterer)
	registerer.MustRegister(collectors.NewGoCollector(collectors.WithGoCollectorMemStatsMetricsDisabled()))
}

func main() {
	flag.Parse()

	if Version != "no-set" {
		runtime.BuildInfo.Version = Version
	}

	c := config.New[conf.Bootstrap](config.WithSource(file.NewSource(flagConf)))
	defer c.Close()

	bc := &conf.Bootstrap{}
	if err := c.Scan(bc); err != nil {
		log.Fatal(err)
	}
	if err := bc.ApplyDefaults(); err != nil {
		log.Fatal(err)
	}

	level := setupLogger(bc.Logger)

	// hot reload of the log level
	if err := c.Watch(func(nb *conf.Bootstrap) {
		if err := nb.ApplyDefaults(); err != nil {
			return
		}
		if !flagVerbose {
			level.SetLevel(log.ParseLevel(nb.Logger.Level))
		}
		log.Infof("config %s reloaded, log level %s", flagConf, nb.Logger.Level)
	}); err != nil {
		log.Warnf("watch config %s failed: %v", flagConf, err)
	}

	log.Debugf("conf = %#+v", bc)

	app, err := newApp(bc)
	if err != nil {
		log.Fatal(err)
	}

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}

func setupLogger(c *conf.Logger) *log.Filter {
	zlog := log.NewZapLogger(log.ZapOption{
		Path:       c.Path,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	})

	lv := log.ParseLevel(c.Level)
	if flagVerbose {
		lv = log.LevelDebug
	}

	filter := log.NewFilter(zlog, log.FilterLevel(lv))
	log.SetLogger(log.With(filter, "ts", log.Timestamp(time.RFC3339), "pid", os.Getpid()))
	return filter
}

func newApp(bc *conf.Bootstrap) (*kratos.App, error) {
	stopTimeout := 120 * time.Second

	// graceful upgrade
	flip, err := tableflip.New(tableflip.Options{
		PIDFile:        bc.PidFile,
		UpgradeTimeout: stopTimeout,
	})
	if err != nil {
		return nil, err
	}

	// graceful upgrade if we have not parent process
	// remove unix socket file.
	if !flip.HasParent() {
		if strings.HasSuffix(bc.Server.Addr, ".sock") {
			_ = os.Remove(bc.Server.Addr) // remove unix socket
		}
	}

	logger := log.GetLogger()

	ctrl, err := newController(bc, logger)
	if err != nil {
		return nil, err
	}

	lis := listener.New(ctrl, listener.WithWindow(bc.Cache.CoalesceWindow), listener.WithLogger(logger))
	if err := lis.Subscribe(ctrl.Bus()); err != nil {
		return nil, err
	}

	// load plugin
	plugins := loadPlugin(logger, bc, &host{ctrl: ctrl})

	// transport server
	servers := []transport.Server{&cacheServer{ctrl: ctrl, lis: lis}}

	srvOpts := []server.Option{
		server.WithStatus("listener", func() any { return lis.Stats() }),
		server.WithStatus("plugins", func() any { return plugin.Registered() }),
	}

	if bc.Notifier.Websocket != "" {
		ws := listener.NewWebsocketSource(bc.Notifier.Websocket, lis,
			listener.WithReconnect(bc.Notifier.ReconnectInitial, bc.Notifier.ReconnectMax),
			listener.WithPingInterval(bc.Notifier.PingInterval),
		)
		servers = append(servers, ws)
		srvOpts = append(srvOpts, server.WithStatus("websocket", func() any {
			return map[string]any{"url": bc.Notifier.Websocket, "connected": ws.Connected()}
		}))
	}

	srv := server.NewServer(bc.Server, flip, ctrl, plugins, srvOpts...)
	servers = append(servers, srv)

	for _, p := range plugins {
		servers = append(servers, p)
	}

	var app *kratos.App
	app = kratos.New(
		kratos.ID(id),
		kratos.Name("chunksync"),
		kratos.Version(Version),
		kratos.StopTimeout(stopTimeout),
		kratos.Logger(logger),
		kratos.Server(servers...),
		kratos.AfterStart(func(context.Context) error {
			go upgradeOnHUP(flip, app)
			return flip.Ready()
		}),
		kratos.AfterStop(func(context.Context) error {
			flip.Stop()
			return nil
		}),
	)
	return app, nil
}

// upgradeOnHUP hands the listeners to a fresh process on SIGHUP and stops
// this one once the child is ready.
func upgradeOnHUP(flip *tableflip.Upgrader, app *kratos.App) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	defer signal.Stop(sig)

	for {
		select {
		case <-sig:
			log.Infof("upgrade requested")
			if err := flip.Upgrade(); err != nil {
				log.Errorf("upgrade failed: %v", err)
			}
		case <-flip.Exit():
			_ = app.Stop()
			return
		}
	}
}

func newController(bc *conf.Bootstrap, logger log.Logger) (*controller.Controller, error) {
	cc := bc.Cache
	opts := []controller.Option{
		controller.WithLogger(logger),
		controller.WithStagedReload(cc.StagedReload),
		controller.WithFailBackoff(cc.FailBackoff, cc.FailBackoffMax),
		controller.WithLoaderOptions(
			loader.WithPageSize(cc.PageSize),
			loader.WithMaxParallel(cc.MaxParallelPages),
			loader.WithPageTimeout(cc.PageTimeout),
			loader.WithRetry(cc.MaxRetries, cc.RetryInitial, cc.RetryMax),
			loader.WithRateLimit(cc.RateLimit, cc.RateBurst),
		),
	}

	if sc := bc.Snapshot; sc.Driver != "" {
		snap, err := snapshot.Create(&snapshot.Option{
			Driver:    sc.Driver,
			Path:      sc.Path,
			Compress:  sc.Compress,
			CodecName: sc.Codec,
			Options:   sc.Options,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, controller.WithSnapshot(snap, sc.PersistOnLoad))
	}

	client := authhttp.NewClient(bc.Authority.Endpoint, authhttp.WithTimeout(bc.Authority.Timeout))
	return controller.New(client, opts...), nil
}

func loadPlugin(logger log.Logger, bc *conf.Bootstrap, h pluginv1.Host) []pluginv1.Plugin {
	ctxlog := log.NewHelper(logger)

	plugins := make([]pluginv1.Plugin, 0, len(bc.Plugin))
	for _, plug := range bc.Plugin {
		instance, err := plugin.Create(plug, h, log.NewHelper(log.With(logger, "plugin", plug.PluginName())))
		if err != nil {
			if bc.Strict {
				ctxlog.Fatalf("load plugin %s failed: %v", plug.Name, err)
			}
			ctxlog.Errorf("load plugin %s failed: %v", plug.Name, err)
			continue
		}
		ctxlog.Debugf("plugin %s loaded", plug.PluginName())
		plugins = append(plugins, instance)
	}
	return plugins
}

type host struct {
	ctrl *controller.Controller
}

func (h *host) Cache() pluginv1.Cache { return h.ctrl }
func (h *host) Bus() *event.Bus       { return h.ctrl.Bus() }

// cacheServer runs the controller and its listener as one app server.
type cacheServer struct {
	ctrl *controller.Controller
	lis  *listener.Listener
}

func (s *cacheServer) Start(ctx context.Context) error {
	err := s.ctrl.Start(ctx)
	switch {
	case err == nil:
		log.Infof("cache ready with %d chunks", s.ctrl.Len())
	case errors.Is(err, chunk.ErrLoadAborted), errors.Is(err, chunk.ErrStopped):
	default:
		// the controller keeps retrying in the background
		log.Errorf("initial load failed: %v", err)
	}
	return nil
}

func (s *cacheServer) Stop(ctx context.Context) error {
	return errors.Join(s.lis.Close(ctx), s.ctrl.Shutdown(ctx))
}
