package gologger

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

// ZerologLogger writes glog calls through zerolog. Variadic args are read as
// key/value pairs.
type ZerologLogger struct {
	logger zerolog.Logger
}

type Option func(*zerolog.Logger)

// WithConsole switches to the human readable console writer.
func WithConsole() Option {
	return func(l *zerolog.Logger) {
		*l = l.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

func WithLevel(level string) Option {
	return func(l *zerolog.Logger) {
		parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil || parsed == zerolog.NoLevel {
			parsed = zerolog.InfoLevel
		}
		*l = l.Level(parsed)
	}
}

func NewZerologLogger(w io.Writer, opts ...Option) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	logger := zerolog.New(w).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	for _, opt := range opts {
		if opt != nil {
			opt(&logger)
		}
	}
	return &ZerologLogger{logger: logger}
}

func (l *ZerologLogger) Trace(msg string, args ...any) { l.emit(zerolog.TraceLevel, msg, args) }
func (l *ZerologLogger) Debug(msg string, args ...any) { l.emit(zerolog.DebugLevel, msg, args) }
func (l *ZerologLogger) Info(msg string, args ...any)  { l.emit(zerolog.InfoLevel, msg, args) }
func (l *ZerologLogger) Warn(msg string, args ...any)  { l.emit(zerolog.WarnLevel, msg, args) }
func (l *ZerologLogger) Error(msg string, args ...any) { l.emit(zerolog.ErrorLevel, msg, args) }

// Fatal logs at fatal level without exiting the process.
func (l *ZerologLogger) Fatal(msg string, args ...any) { l.emit(zerolog.FatalLevel, msg, args) }

func (l *ZerologLogger) WithContext(ctx context.Context) glog.Logger {
	if l == nil || ctx == nil {
		return l
	}
	return &ZerologLogger{logger: l.logger.With().Ctx(ctx).Logger()}
}

func (l *ZerologLogger) WithFields(fields map[string]any) glog.Logger {
	if l == nil || len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	builder := l.logger.With()
	for _, key := range keys {
		builder = builder.Interface(key, fields[key])
	}
	return &ZerologLogger{logger: builder.Logger()}
}

// GetLogger tags every entry with the component name.
func (l *ZerologLogger) GetLogger(name string) glog.Logger {
	if l == nil {
		return glog.Nop()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &ZerologLogger{logger: l.logger.With().Str("logger", name).Logger()}
}

func (l *ZerologLogger) emit(level zerolog.Level, msg string, args []any) {
	if l == nil {
		return
	}
	event := l.logger.WithLevel(level)
	if event == nil {
		return
	}
	if len(args)%2 == 1 {
		args = append(args, "(MISSING)")
	}
	event.Fields(args).Msg(msg)
}

var (
	_ glog.Logger         = (*ZerologLogger)(nil)
	_ glog.FieldsLogger   = (*ZerologLogger)(nil)
	_ glog.LoggerProvider = (*ZerologLogger)(nil)
)
