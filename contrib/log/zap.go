package log

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var _ Logger = (*ZapLogger)(nil)

// ZapLogger adapts a zap.Logger to Logger.
type ZapLogger struct {
	log    *zap.Logger
	msgKey string
}

// ZapOption configures NewZapLogger.
type ZapOption struct {
	// Path of the rotated log file. empty writes to stderr.
	Path       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// NewZap wraps an existing zap logger.
func NewZap(zlog *zap.Logger) *ZapLogger {
	return &ZapLogger{
		log:    zlog,
		msgKey: DefaultMessageKey,
	}
}

// NewZapLogger builds a json zap logger, rotated by lumberjack when opt.Path is set.
// Level filtering is left to Filter so that it can be changed at runtime.
func NewZapLogger(opt ZapOption) *ZapLogger {
	var ws zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if opt.Path != "" {
		_ = os.MkdirAll(filepath.Dir(opt.Path), 0o755)
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Path,
			MaxSize:    opt.MaxSize,
			MaxBackups: opt.MaxBackups,
			MaxAge:     opt.MaxAge,
			LocalTime:  true,
			Compress:   opt.Compress,
		})
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "" // ts is supplied by log.With(..., "ts", log.Timestamp(...))
	cfg.MessageKey = ""

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), ws, zapcore.DebugLevel)
	return NewZap(zap.New(core))
}

// Log implements Logger.
func (l *ZapLogger) Log(level Level, keyvals ...any) error {
	keylen := len(keyvals)
	if keylen == 0 || keylen%2 != 0 {
		l.log.Warn(fmt.Sprint("keyvals must appear in pairs: ", keyvals))
		return nil
	}

	var msg string
	data := make([]zap.Field, 0, (keylen/2)+1)
	for i := 0; i < keylen; i += 2 {
		key := fmt.Sprint(keyvals[i])
		if key == l.msgKey {
			msg = fmt.Sprint(keyvals[i+1])
			continue
		}
		data = append(data, zap.Any(key, keyvals[i+1]))
	}
	if msg != "" {
		data = append(data, zap.String(l.msgKey, msg))
	}

	switch level {
	case LevelDebug:
		l.log.Debug("", data...)
	case LevelInfo:
		l.log.Info("", data...)
	case LevelWarn:
		l.log.Warn("", data...)
	case LevelError:
		l.log.Error("", data...)
	case LevelFatal:
		// os.Exit is left to the Helper
		l.log.Error("", append(data, zap.Bool("fatal", true))...)
	}
	return nil
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.log.Sync()
}

// Close implements io.Closer.
func (l *ZapLogger) Close() error {
	return l.Sync()
}
