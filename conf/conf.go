package conf

import (
	"time"

	"dario.cat/mergo"

	"github.com/omalloc/chunksync/pkg/mapstruct"
)

type Bootstrap struct {
	Strict    bool       `json:"strict" yaml:"strict"`
	PidFile   string     `json:"pidfile" yaml:"pidfile"`
	Logger    *Logger    `json:"logger" yaml:"logger"`
	Server    *Server    `json:"server" yaml:"server"`
	Cache     *Cache     `json:"cache" yaml:"cache"`
	Authority *Authority `json:"authority" yaml:"authority"`
	Notifier  *Notifier  `json:"notifier" yaml:"notifier"`
	Snapshot  *Snapshot  `json:"snapshot" yaml:"snapshot"`
	Plugin    []*Plugin  `json:"plugin" yaml:"plugin"`
}

type Logger struct {
	Level      string `json:"level" yaml:"level"`
	Path       string `json:"path" yaml:"path"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type Server struct {
	Addr              string           `json:"addr" yaml:"addr"`
	ReadTimeout       time.Duration    `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration    `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout       time.Duration    `json:"idle_timeout" yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration    `json:"read_header_timeout" yaml:"read_header_timeout"`
	MaxHeaderBytes    int              `json:"max_header_bytes" yaml:"max_header_bytes"`
	AccessLog         *ServerAccessLog `json:"access_log" yaml:"access_log"`
	Recovery          *ServerRecovery  `json:"recovery" yaml:"recovery"`
}

type ServerAccessLog struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

type ServerRecovery struct {
	FailCountThreshold int64         `json:"fail_count_threshold" yaml:"fail_count_threshold"`
	FailWindow         time.Duration `json:"fail_window" yaml:"fail_window"`
}

// Cache tunes the loader and the controller.
type Cache struct {
	PageSize         int           `json:"page_size" yaml:"page_size"`
	MaxParallelPages int           `json:"max_parallel_pages" yaml:"max_parallel_pages"`
	PageTimeout      time.Duration `json:"page_timeout" yaml:"page_timeout"`
	MaxRetries       int           `json:"max_retries" yaml:"max_retries"`
	RetryInitial     time.Duration `json:"retry_initial" yaml:"retry_initial"`
	RetryMax         time.Duration `json:"retry_max" yaml:"retry_max"`
	FailBackoff      time.Duration `json:"fail_backoff" yaml:"fail_backoff"`
	FailBackoffMax   time.Duration `json:"fail_backoff_max" yaml:"fail_backoff_max"`
	CoalesceWindow   time.Duration `json:"coalesce_window" yaml:"coalesce_window"`
	StagedReload     bool          `json:"staged_reload" yaml:"staged_reload"`
	// RateLimit caps authority requests per second. zero disables it.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst"`
}

type Authority struct {
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

type Notifier struct {
	// Websocket is the push endpoint. empty disables the websocket source.
	Websocket        string        `json:"websocket" yaml:"websocket"`
	ReconnectInitial time.Duration `json:"reconnect_initial" yaml:"reconnect_initial"`
	ReconnectMax     time.Duration `json:"reconnect_max" yaml:"reconnect_max"`
	PingInterval     time.Duration `json:"ping_interval" yaml:"ping_interval"`
}

type Snapshot struct {
	// Driver is pebble or nutsdb. empty disables snapshots.
	Driver        string         `json:"driver" yaml:"driver"`
	Path          string         `json:"path" yaml:"path"`
	Compress      string         `json:"compress" yaml:"compress"`
	Codec         string         `json:"codec" yaml:"codec"`
	PersistOnLoad bool           `json:"persist_on_load" yaml:"persist_on_load"`
	Options       map[string]any `json:"options" yaml:"options"`
}

type Plugin struct {
	Name    string         `json:"name" yaml:"name"`
	Options map[string]any `json:"options" yaml:"options"`
}

func (r *Plugin) PluginName() string {
	return r.Name
}

func (r *Plugin) Unmarshal(v any) error {
	return mapstruct.Decode(r.Options, v)
}

// Default returns the configuration used for every unset field.
func Default() *Bootstrap {
	return &Bootstrap{
		PidFile: "/tmp/chunksync.pid",
		Logger: &Logger{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     7,
		},
		Server: &Server{
			Addr:              ":8080",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
			AccessLog:         &ServerAccessLog{Path: "logs/access.log"},
			Recovery: &ServerRecovery{
				FailCountThreshold: 10,
				FailWindow:         time.Minute,
			},
		},
		Cache: &Cache{
			PageSize:         500,
			MaxParallelPages: 4,
			PageTimeout:      10 * time.Second,
			MaxRetries:       5,
			RetryInitial:     200 * time.Millisecond,
			RetryMax:         5 * time.Second,
			FailBackoff:      time.Second,
			FailBackoffMax:   time.Minute,
			CoalesceWindow:   100 * time.Millisecond,
		},
		Authority: &Authority{
			Endpoint: "http://127.0.0.1:9000",
			Timeout:  10 * time.Second,
		},
		Notifier: &Notifier{
			ReconnectInitial: 500 * time.Millisecond,
			ReconnectMax:     30 * time.Second,
			PingInterval:     30 * time.Second,
		},
		Snapshot: &Snapshot{
			Compress: "lz4",
		},
	}
}

// ApplyDefaults fills every zero field of bc from Default.
func (bc *Bootstrap) ApplyDefaults() error {
	return mergo.Merge(bc, Default())
}
