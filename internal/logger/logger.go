// Package logger provides the WFD core's ambient structured logging: a
// process-global zerolog.Logger, a runtime-adjustable level, and a small
// set of With* helpers that attach WFD-specific context (session id, peer
// address, M-kind) the way the rest of the core expects to log.
package logger

import (
	"errors"
	"flag"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const envLogLevel = "WFD_LOG_LEVEL"

var (
	atomicLevel = &dynamicLevel{v: int64(zerolog.InfoLevel)}
	global      zerolog.Logger
	initOnce    sync.Once

	flagLevel = flag.String("log.level", "", "log level (debug, info, warn, error)")
)

// dynamicLevel is an atomically-swappable zerolog.Level.
type dynamicLevel struct{ v int64 }

func (d *dynamicLevel) get() zerolog.Level { return zerolog.Level(atomic.LoadInt64(&d.v)) }
func (d *dynamicLevel) set(l zerolog.Level) { atomic.StoreInt64(&d.v, int64(l)) }

// Init initializes the global logger. Safe to call multiple times; the
// first call wins except SetLevel/UseWriter, which intentionally mutate
// state afterward.
func Init() {
	initOnce.Do(func() {
		lvl := detectLevel()
		atomicLevel.set(lvl)
		global = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
	})
}

// detectLevel resolves the initial log level from (precedence high→low):
//  1. command-line flag -log.level
//  2. environment variable WFD_LOG_LEVEL
//  3. default (info)
func detectLevel() zerolog.Level {
	if *flagLevel == "" {
		for _, arg := range os.Args[1:] {
			if strings.HasPrefix(arg, "-log.level=") {
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) == 2 {
					*flagLevel = parts[1]
				}
			}
		}
	}
	if lvl, ok := parseLevel(strings.TrimSpace(*flagLevel)); ok {
		return lvl
	}
	if env := os.Getenv(envLogLevel); env != "" {
		if lvl, ok := parseLevel(env); ok {
			return lvl
		}
	}
	return zerolog.InfoLevel
}

func parseLevel(s string) (zerolog.Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "debug":
		return zerolog.DebugLevel, true
	case "info", "":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error", "err":
		return zerolog.ErrorLevel, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(level string) error {
	Init()
	lvl, ok := parseLevel(level)
	if !ok {
		return errors.New("invalid log level: " + level)
	}
	atomicLevel.set(lvl)
	global = global.Level(lvl)
	return nil
}

// Level returns the current runtime level as a string.
func Level() string {
	Init()
	return atomicLevel.get().String()
}

// UseWriter swaps the output writer (intended for tests). Retains the
// current level.
func UseWriter(w io.Writer) {
	Init()
	global = zerolog.New(w).With().Timestamp().Logger().Level(atomicLevel.get())
}

// Logger returns the global logger (ensures Init was called).
func Logger() *zerolog.Logger { Init(); return &global }

// Convenience top-level logging functions.
func Debug(msg string, kv ...any) { withFields(Logger().Debug(), kv).Msg(msg) }
func Info(msg string, kv ...any)  { withFields(Logger().Info(), kv).Msg(msg) }
func Warn(msg string, kv ...any)  { withFields(Logger().Warn(), kv).Msg(msg) }
func Error(msg string, kv ...any) { withFields(Logger().Error(), kv).Msg(msg) }

// withFields folds alternating key/value pairs (the teacher's slog-style
// calling convention) into a zerolog event.
func withFields(ev *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	return ev
}

// WithSession attaches session identity fields.
func WithSession(l *zerolog.Logger, sessionID, peerAddr string) zerolog.Logger {
	return l.With().Str("session_id", sessionID).Str("peer_addr", peerAddr).Logger()
}

// WithMessage attaches RTSP message metadata: the M-kind name, the method,
// and the CSeq being processed.
func WithMessage(l *zerolog.Logger, mKind, method string, cseq int) zerolog.Logger {
	return l.With().Str("m_kind", mKind).Str("method", method).Int("cseq", cseq).Logger()
}
