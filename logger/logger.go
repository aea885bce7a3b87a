package logger

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/tickettoken/ticket-indexer/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	timeFormat         = "[01-02|15:04:05.000]"
	sentryFlushTimeout = 2 * time.Second
)

// output is one configured logger together with the clients it must flush.
type output struct {
	sugar  *zap.SugaredLogger
	sentry *sentry.Client
}

var current atomic.Pointer[output]

func init() {
	current.Store(newOutput(DefaultLoggerConfig()))
	config.GlobalConfigCallback.AddCallback(func(cfg config.GlobalConfig) {
		Configure(cfg.LoggerConfig())
	})
}

// Configure replaces the package logger. The previous one is flushed.
func Configure(cfg config.LoggerConfig) {
	previous := current.Swap(newOutput(cfg))
	previous.flush()
}

func newOutput(cfg config.LoggerConfig) *output {
	level, levelErr := zapcore.ParseLevel(cfg.Level)
	if levelErr != nil {
		level = zapcore.InfoLevel
	}
	atom := zap.NewAtomicLevelAt(level)

	var cores []zapcore.Core
	if cfg.Console {
		cores = append(cores, consoleCore(atom))
	}
	if len(cfg.File) > 0 {
		cores = append(cores, fileCore(cfg, atom))
	}

	base := zap.New(
		zapcore.NewTee(cores...),
		zap.AddStacktrace(zap.ErrorLevel),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)

	out := &output{}
	if len(cfg.SentryDSN) > 0 {
		base, out.sentry = withSentry(cfg.SentryDSN, base)
	}
	out.sugar = base.Sugar()

	if levelErr != nil {
		out.sugar.Errorf("Unknown log level %q, using %s", cfg.Level, level)
	}
	return out
}

// withSentry forwards errors to Sentry and keeps lower levels as
// breadcrumbs. When Sentry cannot be set up the logger is returned as is.
func withSentry(dsn string, base *zap.Logger) (*zap.Logger, *sentry.Client) {
	client, err := sentry.NewClient(sentry.ClientOptions{Dsn: dsn})
	if err != nil {
		base.Sugar().Errorf("Failed to create sentry client: %s", err)
		return base, nil
	}

	core, err := zapsentry.NewCore(zapsentry.Configuration{
		Level:             zapcore.ErrorLevel,
		EnableBreadcrumbs: true,
		BreadcrumbLevel:   zapcore.InfoLevel,
		Tags:              map[string]string{"component": "ticket-indexer"},
	}, zapsentry.NewSentryClientFromClient(client))
	if err != nil {
		base.Sugar().Errorf("Failed to create sentry core: %s", err)
		return base, nil
	}

	return zapsentry.AttachCoreToLogger(core, base), client
}

func (o *output) flush() {
	_ = o.sugar.Sync()
	if o.sentry != nil {
		o.sentry.Flush(sentryFlushTimeout)
	}
}

// fileCore writes JSON lines to a rotated file.
func fileCore(cfg config.LoggerConfig, atom zap.AtomicLevel) zapcore.Core {
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxFileSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeLevel = fileLevelEncoder
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), w, atom)
}

type stdoutWriter struct {
	io.Writer
}

func (stdoutWriter) Sync() error {
	return nil
}

func consoleCore(atom zap.AtomicLevel) zapcore.Core {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeLevel = consoleColorLevelEncoder
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)

	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), stdoutWriter{os.Stdout}, atom)
}

func consoleColorLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	s, ok := levelToCapitalColorString[l]
	if !ok {
		s = unknownLevelColor.Wrap(l.CapitalString())
	}
	enc.AppendString(s)
}

func fileLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(l.CapitalString())
}

func DefaultLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{
		Level:   "DEBUG",
		Console: true,
	}
}

// Sync flushes buffered entries and pending Sentry events.
func Sync() {
	current.Load().flush()
}

func Warn(msg string, args ...interface{}) {
	current.Load().sugar.Warnf(msg, args...)
}

func Error(msg string, args ...interface{}) {
	current.Load().sugar.Errorf(msg, args...)
}

func Info(msg string, args ...interface{}) {
	current.Load().sugar.Infof(msg, args...)
}

func Debug(msg string, args ...interface{}) {
	current.Load().sugar.Debugf(msg, args...)
}

func Fatal(msg string, args ...interface{}) {
	Sync()
	current.Load().sugar.Fatalf(msg, args...)
}
