// internal/logger/logger.go
//
// Structured logger (Zap + Lumberjack) built from the `logging` section.
//
// Context
// -------
// The `logging` section of configs.yml names a set of handlers.  Each one
// becomes a zap core:
//
//	logging:
//	  level: info
//	  handlers:
//	    console: {type: console, encoding: console}
//	    file:    {type: file, filename: app.log, max_size: 50, compress: true}
//
// `file` handlers write through a Lumberjack rotating sink; rotation,
// compression, and retention need no external job.  By the time `Build`
// sees a file handler, internal/config has already rewritten a relative
// `filename` into the logs directory.
//
// Usage
// -----
//
//	log, sinks, err := logger.Build(cfg.Logging)
//	if err != nil { … }
//	logger.Install(log)
//	defer sinks.Close()
//
// Notes
// -----
// • ISO-8601 timestamps, lowercase levels, short callers.
// • With no handlers configured the logger writes console output to stderr.
// • The io.Closer returned by Build closes the file sinks.  Close the old
//   one after installing a replacement logger.
// • Oxford commas, two spaces after periods.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config mirrors the `logging` section.
type Config struct {
	Level    string                   `koanf:"level"`
	Handlers map[string]HandlerConfig `koanf:"handlers"`
}

// HandlerConfig describes one output.  Size is in MB and age in days, as
// Lumberjack expects.
type HandlerConfig struct {
	Type       string `koanf:"type"`     // console | file
	Level      string `koanf:"level"`    // defaults to Config.Level
	Encoding   string `koanf:"encoding"` // json | console
	Stream     string `koanf:"stream"`   // stdout | stderr, console only
	Filename   string `koanf:"filename"`
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`
	Compress   bool   `koanf:"compress"`
}

var encCfg = zapcore.EncoderConfig{
	TimeKey:      "ts",
	LevelKey:     "level",
	NameKey:      "logger",
	MessageKey:   "msg",
	CallerKey:    "caller",
	EncodeTime:   zapcore.ISO8601TimeEncoder,
	EncodeLevel:  zapcore.LowercaseLevelEncoder,
	EncodeCaller: zapcore.ShortCallerEncoder,
}

// Build assembles a tee of one core per handler.  Handlers are visited in
// name order so the result does not depend on map iteration.  The returned
// Closer releases every file sink Build opened.
func Build(cfg Config) (*zap.Logger, io.Closer, error) {
	base, err := parseLevel(cfg.Level, zapcore.InfoLevel)
	if err != nil {
		return nil, nil, err
	}

	if len(cfg.Handlers) == 0 {
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), base)
		return zap.New(core, zap.AddCaller()), sinks(nil), nil
	}

	names := make([]string, 0, len(cfg.Handlers))
	for name := range cfg.Handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	var files sinks
	cores := make([]zapcore.Core, 0, len(names))
	for _, name := range names {
		core, sink, err := newCore(cfg.Handlers[name], base)
		if err != nil {
			_ = files.Close()
			return nil, nil, fmt.Errorf("handler %q: %w", name, err)
		}
		if sink != nil {
			files = append(files, sink)
		}
		cores = append(cores, core)
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), files, nil
}

// sinks closes every rotating file it holds.
type sinks []*lumberjack.Logger

func (s sinks) Close() error {
	var errs []error
	for _, f := range s {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// Install makes l the process-wide default so zap.L() and zap.S() work
// everywhere after startup.
func Install(l *zap.Logger) {
	zap.ReplaceGlobals(l)
}

func newCore(h HandlerConfig, fallback zapcore.Level) (zapcore.Core, *lumberjack.Logger, error) {
	level, err := parseLevel(h.Level, fallback)
	if err != nil {
		return nil, nil, err
	}

	switch strings.ToLower(h.Type) {
	case "", "console":
		enc := encoder(h.Encoding, "console")
		out := zapcore.Lock(os.Stderr)
		if strings.EqualFold(h.Stream, "stdout") {
			out = zapcore.Lock(os.Stdout)
		}
		return zapcore.NewCore(enc, out, level), nil, nil

	case "file":
		if h.Filename == "" {
			return nil, nil, fmt.Errorf("file handler needs a filename")
		}
		if err := os.MkdirAll(filepath.Dir(h.Filename), 0o755); err != nil {
			return nil, nil, err
		}
		sink := &lumberjack.Logger{
			Filename:   h.Filename,
			MaxSize:    orDefault(h.MaxSize, 50), // MB
			MaxBackups: orDefault(h.MaxBackups, 7),
			MaxAge:     orDefault(h.MaxAge, 14), // days
			Compress:   h.Compress,
		}
		return zapcore.NewCore(encoder(h.Encoding, "json"), zapcore.AddSync(sink), level), sink, nil
	}
	return nil, nil, fmt.Errorf("unknown handler type %q", h.Type)
}

func encoder(name, fallback string) zapcore.Encoder {
	if name == "" {
		name = fallback
	}
	if strings.EqualFold(name, "console") {
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}

// parseLevel accepts zap names in any case plus the common aliases
// WARNING and CRITICAL.
func parseLevel(s string, fallback zapcore.Level) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "":
		return fallback, nil
	case "warning":
		return zapcore.WarnLevel, nil
	case "critical":
		return zapcore.FatalLevel, nil
	}
	return zapcore.ParseLevel(strings.ToLower(s))
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
