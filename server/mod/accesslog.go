package mod

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omalloc/chunksync/conf"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/metrics"
	xhttp "github.com/omalloc/chunksync/pkg/x/http"
)

// HandleAccessLog writes one line per request. Without a path the lines
// go to stdout; a disabled access log only attaches the request metric.
func HandleAccessLog(opt *conf.ServerAccessLog, next http.HandlerFunc) http.HandlerFunc {
	if opt == nil || !opt.Enabled {
		log.Infof("access-log is turned off")
		return wrap(next)
	}

	var logWriter *zap.Logger
	if opt.Path == "" {
		log.Warnf("access-log `path` is empty, will be written to stdout")
		logWriter = newLogger(zapcore.Lock(os.Stdout))
	} else {
		logWriter = newAccessLog(opt.Path)
	}

	return func(w http.ResponseWriter, req *http.Request) {
		fillRequest(req)

		req, _ = metrics.WithRequestMetric(req)
		recorder := xhttp.NewResponseRecorder(w)

		defer func() {
			logWriter.Info(string(WithNormalFields(req, recorder)))
		}()

		next(recorder, req)
	}
}

// wrap attaches the request metric without logging.
func wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		fillRequest(req)
		req, _ = metrics.WithRequestMetric(req)
		next(xhttp.NewResponseRecorder(w), req)
	}
}

func tickRotate(f *lumberjack.Logger) {
	go func() {
		// align to the next minute
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(time.Until(next))
		defer timer.Stop()

		for range timer.C {
			_ = f.Rotate()
			// re-align after every rotation so the schedule does not drift
			now = time.Now()
			next = now.Truncate(time.Minute).Add(time.Minute)
			timer.Reset(time.Until(next))
		}
	}()
}

func newAccessLog(path string) *zap.Logger {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 100,
		MaxAge:     1,
		LocalTime:  true,
		Compress:   false,
	}

	// rotate every minute
	tickRotate(f)

	return newLogger(zapcore.AddSync(f))
}

func newLogger(ws zapcore.WriteSyncer) *zap.Logger {
	cfg := zap.NewProductionConfig().EncoderConfig
	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {}
	cfg.EncodeLevel = func(_ zapcore.Level, _ zapcore.PrimitiveArrayEncoder) {}

	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		ws,
		zapcore.InfoLevel,
	))
}
