package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultMaxBackups is how many rotated log files are kept
const DefaultMaxBackups = 3

// FileLogger appends JSON lines to a file. Long mirror runs log one entry
// per file, so the file is rotated by size into numbered backups.
type FileLogger struct {
	sink    *fileSink
	level   LogLevel
	traceID string
}

// fileSink is shared by a FileLogger and every traced copy of it
type fileSink struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	size       int64
	maxSize    int64
	maxBackups int
	redact     bool
}

type FileLoggerConfig struct {
	FilePath      string
	Level         LogLevel
	MaxFileSize   int64 // bytes; 0 disables rotation
	RotateEnabled bool
	MaxBackups    int
	Redact        bool
}

func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	sink := &fileSink{
		path:       config.FilePath,
		maxBackups: config.MaxBackups,
		redact:     config.Redact,
	}
	if config.RotateEnabled {
		sink.maxSize = config.MaxFileSize
	}
	if sink.maxBackups <= 0 {
		sink.maxBackups = DefaultMaxBackups
	}
	if err := sink.open(); err != nil {
		return nil, err
	}
	return &FileLogger{sink: sink, level: config.Level}, nil
}

func (s *fileSink) open() error {
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	s.file = file
	s.size = info.Size()
	return nil
}

// rotate shifts path.N to path.N+1, dropping the oldest, and starts a fresh
// file. Callers hold mu.
func (s *fileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	s.file = nil

	os.Remove(fmt.Sprintf("%s.%d", s.path, s.maxBackups))
	for i := s.maxBackups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", s.path, i), fmt.Sprintf("%s.%d", s.path, i+1))
	}
	renameErr := os.Rename(s.path, s.path+".1")

	if err := s.open(); err != nil {
		return err
	}
	if renameErr != nil {
		return fmt.Errorf("failed to rename log file: %w", renameErr)
	}
	return nil
}

func (s *fileSink) write(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return
	}
	if s.maxSize > 0 && s.size >= s.maxSize {
		if err := s.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to rotate log file: %v\n", err)
			if s.file == nil {
				return
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}
	n, err := s.file.Write(append(data, '\n'))
	s.size += int64(n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log entry: %v\n", err)
	}
}

func (l *FileLogger) log(level LogLevel, msg string, fields ...Field) {
	if level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   msg,
		TraceID:   l.traceID,
		Fields:    make(map[string]interface{}, len(fields)),
	}
	for _, field := range fields {
		entry.Fields[field.Key] = field.Value
		if s, ok := field.Value.(string); ok && l.sink.redact {
			entry.Fields[field.Key] = redactSensitiveData(s)
		}
	}
	if l.sink.redact {
		entry.Message = redactSensitiveData(msg)
	}
	l.sink.write(entry)
}

func (l *FileLogger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields...) }
func (l *FileLogger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields...) }
func (l *FileLogger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields...) }
func (l *FileLogger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields...) }

func (l *FileLogger) WithTraceID(traceID string) Logger {
	return &FileLogger{sink: l.sink, level: l.level, traceID: traceID}
}

func (l *FileLogger) WithContext(ctx context.Context) Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return l.WithTraceID(traceID)
	}
	return l
}

func (l *FileLogger) SetLevel(level LogLevel) {
	l.level = level
}

// Close closes the log file. Traced copies share the file, so closing any
// of them closes all.
func (l *FileLogger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}
