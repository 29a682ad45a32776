// Package observers provides lifecycle observers for logging and metrics
package observers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anggasct/admitflow"
)

// LogLevel represents the logging level
type LogLevel int

const (
	// LogError logs only errors
	LogError LogLevel = iota
	// LogWarning logs errors and rejected events
	LogWarning
	// LogInfo logs errors, rejections and transitions
	LogInfo
	// LogDebug also logs guard evaluations and action runs
	LogDebug
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogError:
		return slog.LevelError
	case LogWarning:
		return slog.LevelWarn
	case LogDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// LogFormatter builds the log message
type LogFormatter func(level LogLevel, format string, args ...any) string

// DefaultLogFormatter is fmt.Sprintf
func DefaultLogFormatter(level LogLevel, format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

// LoggingObserver logs lifecycle events through slog. The application id,
// event and statuses are attached as attributes.
type LoggingObserver struct {
	logger    *slog.Logger
	level     LogLevel
	prefix    string
	mutex     sync.RWMutex
	formatter LogFormatter
}

// NewLoggingObserver creates a new logging observer. A nil logger uses
// slog.Default().
func NewLoggingObserver(logger *slog.Logger, level LogLevel, prefix string) *LoggingObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{
		logger:    logger,
		level:     level,
		prefix:    prefix,
		formatter: DefaultLogFormatter,
	}
}

// SetFormatter sets the log formatter
func (o *LoggingObserver) SetFormatter(formatter LogFormatter) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.formatter = formatter
}

// SetLevel changes the verbosity
func (o *LoggingObserver) SetLevel(level LogLevel) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.level = level
}

func (o *LoggingObserver) log(level LogLevel, mctx *admitflow.Context, attrs []slog.Attr, format string, args ...any) {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	if level > o.level {
		return
	}

	message := fmt.Sprintf(format, args...)
	if o.formatter != nil {
		message = o.formatter(level, format, args...)
	}
	if o.prefix != "" {
		message = fmt.Sprintf("[%s] %s", o.prefix, message)
	}

	ctx := context.Background()
	if mctx != nil {
		ctx = mctx
		if app := mctx.Application(); app != nil {
			attrs = append(attrs, slog.String("application_id", app.ID))
		}
	}
	o.logger.LogAttrs(ctx, level.slogLevel(), message, attrs...)
}

// OnTransition logs committed transitions
func (o *LoggingObserver) OnTransition(from, to admitflow.Status, event *admitflow.Event, ctx *admitflow.Context) {
	o.log(LogInfo, ctx, []slog.Attr{
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("event", event.Name),
		slog.String("actor", event.Actor),
	}, "Transition: %s -> %s on event: %s", from, to, event.Name)
}

// OnGuardEvaluation logs guard results
func (o *LoggingObserver) OnGuardEvaluation(from, to admitflow.Status, event *admitflow.Event, result bool, ctx *admitflow.Context) {
	o.log(LogDebug, ctx, []slog.Attr{
		slog.String("event", event.Name),
		slog.Bool("result", result),
	}, "Guard %s -> %s: %t", from, to, result)
}

// OnEventRejected logs events that found no enabled transition
func (o *LoggingObserver) OnEventRejected(event *admitflow.Event, reason string, ctx *admitflow.Context) {
	o.log(LogWarning, ctx, []slog.Attr{
		slog.String("event", event.Name),
	}, "Event rejected: %s", reason)
}

// OnError logs action failures
func (o *LoggingObserver) OnError(err error, ctx *admitflow.Context) {
	o.log(LogError, ctx, []slog.Attr{
		slog.String("error", err.Error()),
	}, "Error: %v", err)
}

// OnActionExecution logs actions about to run
func (o *LoggingObserver) OnActionExecution(from, to admitflow.Status, event *admitflow.Event, ctx *admitflow.Context) {
	o.log(LogDebug, ctx, []slog.Attr{
		slog.String("event", event.Name),
	}, "Action: %s -> %s", from, to)
}
