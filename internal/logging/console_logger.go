package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiGray   = "\033[90m"
)

var levelColors = map[LogLevel]string{
	DEBUG: ansiBlue,
	WARN:  ansiYellow,
	ERROR: ansiRed,
}

// ConsoleLogger writes human readable lines, normally to stderr so they
// never mix with command results on stdout
type ConsoleLogger struct {
	mu      *sync.Mutex
	out     io.Writer
	level   LogLevel
	traceID string
	opts    ConsoleLoggerConfig
}

type ConsoleLoggerConfig struct {
	Writer           io.Writer
	Level            LogLevel
	ColorEnabled     bool
	TimestampEnabled bool
	RedactSensitive  bool
}

func NewConsoleLogger(config ConsoleLoggerConfig) *ConsoleLogger {
	out := config.Writer
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleLogger{
		mu:    &sync.Mutex{},
		out:   out,
		level: config.Level,
		opts:  config,
	}
}

// paint wraps s in color when colors are on
func (l *ConsoleLogger) paint(color, s string) string {
	if !l.opts.ColorEnabled || color == "" {
		return s
	}
	return color + s + ansiReset
}

func (l *ConsoleLogger) clean(s string) string {
	if l.opts.RedactSensitive {
		return redactSensitiveData(s)
	}
	return s
}

// formatLine renders "[time] LEVEL [trace] message k=v ..."
func (l *ConsoleLogger) formatLine(level LogLevel, msg string, fields []Field) string {
	var sb strings.Builder

	if l.opts.TimestampEnabled {
		sb.WriteString(l.paint(ansiGray, time.Now().Format("2006-01-02 15:04:05")))
		sb.WriteByte(' ')
	}
	sb.WriteString(l.paint(levelColors[level], fmt.Sprintf("%-5s", level.String())))
	sb.WriteByte(' ')
	if l.traceID != "" {
		sb.WriteString(l.paint(ansiGray, "["+shortTraceID(l.traceID)+"]"))
		sb.WriteByte(' ')
	}
	sb.WriteString(l.clean(msg))

	for _, field := range fields {
		value := l.clean(fmt.Sprint(field.Value))
		// local paths and Drive names often contain spaces
		if strings.ContainsAny(value, " \t\"") {
			value = strconv.Quote(value)
		}
		sb.WriteByte(' ')
		sb.WriteString(field.Key)
		sb.WriteByte('=')
		sb.WriteString(value)
	}
	return sb.String()
}

func shortTraceID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (l *ConsoleLogger) log(level LogLevel, msg string, fields ...Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	fmt.Fprintln(l.out, l.formatLine(level, msg, fields))
}

func (l *ConsoleLogger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields...) }
func (l *ConsoleLogger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields...) }
func (l *ConsoleLogger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields...) }
func (l *ConsoleLogger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields...) }

// WithTraceID returns a copy tagged with traceID; copies share the writer lock
func (l *ConsoleLogger) WithTraceID(traceID string) Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &ConsoleLogger{
		mu:      l.mu,
		out:     l.out,
		level:   l.level,
		traceID: traceID,
		opts:    l.opts,
	}
}

func (l *ConsoleLogger) WithContext(ctx context.Context) Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return l.WithTraceID(traceID)
	}
	return l
}

func (l *ConsoleLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *ConsoleLogger) Close() error {
	return nil
}
