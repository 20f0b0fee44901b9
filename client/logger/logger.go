package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// TimeFormat is the layout used for log entry timestamps.
var TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Logger is a leveled, namespaced logger. All With* methods return a new
// Logger and leave the receiver untouched, so a Logger can be shared freely
// between goroutines.
type Logger interface {
	// Ctx returns the current logging context.
	Ctx() Ctx

	// WithCtx returns a new Logger with ctx merged into the existing context.
	WithCtx(ctx Ctx) Logger

	// WithWriter returns a new Logger with the writer set.
	WithWriter(w io.Writer) Logger

	// WithNamespace returns a new Logger with the namespace replaced.
	WithNamespace(namespace string) Logger

	// WithNamespaceAppended returns a new Logger with a namespace segment
	// appended, separated by a colon.
	WithNamespaceAppended(namespace string) Logger

	// WithConfig returns a new Logger with the config set.
	WithConfig(config Config) Logger

	// Namespace returns the current namespace.
	Namespace() string

	// Level returns the configured level for the current namespace.
	Level() Level

	// IsLevelEnabled returns true when level would be logged.
	IsLevelEnabled(level Level) bool

	// Trace adds a log entry with level trace.
	Trace(message string, ctx Ctx) (int, error)

	// Debug adds a log entry with level debug.
	Debug(message string, ctx Ctx) (int, error)

	// Info adds a log entry with level info.
	Info(message string, ctx Ctx) (int, error)

	// Warn adds a log entry with level warn.
	Warn(message string, ctx Ctx) (int, error)

	// Error adds a log entry with level error. The error, when non-nil, is
	// appended to the message.
	Error(message string, err error, ctx Ctx) (int, error)
}

type logger struct {
	config    Config
	ctx       Ctx
	namespace string
	writer    io.Writer
	writerMu  *sync.Mutex
}

// compile-time assertion that logger implements Logger.
var _ Logger = &logger{}

// New returns a new Logger writing to stderr. The returned logger is
// disabled until WithConfig sets levels for namespaces.
func New() Logger {
	return &logger{
		config:    ConfigMap{},
		ctx:       nil,
		namespace: "",
		writer:    os.Stderr,
		writerMu:  &sync.Mutex{},
	}
}

// NewFromEnv reads the config string from the environment variable key and
// returns a configured Logger.
func NewFromEnv(key string) Logger {
	return New().WithConfig(NewConfigMapFromString(os.Getenv(key)))
}

func (l *logger) clone() *logger {
	return &logger{
		config:    l.config,
		ctx:       l.ctx,
		namespace: l.namespace,
		writer:    l.writer,
		writerMu:  l.writerMu,
	}
}

func (l *logger) Ctx() Ctx {
	return l.ctx
}

func (l *logger) WithCtx(ctx Ctx) Logger {
	ret := l.clone()
	ret.ctx = l.ctx.WithCtx(ctx)

	return ret
}

func (l *logger) WithWriter(w io.Writer) Logger {
	ret := l.clone()
	ret.writer = w
	ret.writerMu = &sync.Mutex{}

	return ret
}

func (l *logger) WithNamespace(namespace string) Logger {
	ret := l.clone()
	ret.namespace = namespace

	return ret
}

func (l *logger) WithNamespaceAppended(namespace string) Logger {
	if l.namespace != "" {
		namespace = l.namespace + ":" + namespace
	}

	return l.WithNamespace(namespace)
}

func (l *logger) WithConfig(config Config) Logger {
	if config == nil {
		return l
	}

	ret := l.clone()
	ret.config = config

	return ret
}

func (l *logger) Namespace() string {
	return l.namespace
}

func (l *logger) Level() Level {
	return l.config.LevelForNamespace(l.namespace)
}

func (l *logger) IsLevelEnabled(level Level) bool {
	return level <= l.Level()
}

func (l *logger) Trace(message string, ctx Ctx) (int, error) {
	return l.log(LevelTrace, message, ctx)
}

func (l *logger) Debug(message string, ctx Ctx) (int, error) {
	return l.log(LevelDebug, message, ctx)
}

func (l *logger) Info(message string, ctx Ctx) (int, error) {
	return l.log(LevelInfo, message, ctx)
}

func (l *logger) Warn(message string, ctx Ctx) (int, error) {
	return l.log(LevelWarn, message, ctx)
}

func (l *logger) Error(message string, err error, ctx Ctx) (int, error) {
	if err != nil {
		if message != "" {
			message = fmt.Sprintf("%s: %+v", message, err)
		} else {
			message = fmt.Sprintf("%+v", err)
		}
	}

	return l.log(LevelError, message, ctx)
}

func (l *logger) log(level Level, message string, ctx Ctx) (int, error) {
	if !l.IsLevelEnabled(level) {
		return 0, nil
	}

	entry := l.format(time.Now(), level, message, l.ctx.WithCtx(ctx))

	l.writerMu.Lock()
	defer l.writerMu.Unlock()

	return l.writer.Write([]byte(entry))
}

func (l *logger) format(ts time.Time, level Level, message string, ctx Ctx) string {
	var b strings.Builder

	b.WriteString(ts.Format(TimeFormat))
	b.WriteString(fmt.Sprintf(" %5s", level))

	if l.namespace != "" {
		b.WriteString(" [" + l.namespace + "]")
	}

	b.WriteString(" " + message)

	if len(ctx) > 0 {
		keys := make([]string, 0, len(ctx))

		for k := range ctx {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			b.WriteString(fmt.Sprintf(" %s=%+v", k, ctx[k]))
		}
	}

	b.WriteString("\n")

	return b.String()
}
