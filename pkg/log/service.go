package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	config "github.com/mwantia/clickpoints/internal/config/app"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerService interface {
	Debug(msg string, args ...any)

	Info(msg string, args ...any)

	Warn(msg string, args ...any)

	Error(msg string, args ...any)

	Fatal(msg string, args ...any)

	Named(name string) LoggerService
}

type LoggerServiceImpl struct {
	LoggerService

	cfg    config.LogConfig
	name   string
	level  LogLevel
	writer io.Writer
	mu     *sync.Mutex
}

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Service   string `json:"service,omitempty"`
	Message   string `json:"message"`
}

func NewLoggerService(name string, cfg config.LogConfig) LoggerService {
	impl := &LoggerServiceImpl{
		cfg:   cfg,
		name:  name,
		level: Parse(cfg.Level),
		mu:    &sync.Mutex{},
	}

	impl.setupWriter()
	return impl
}

// NewWriterLogger logs to w only.
func NewWriterLogger(name string, level string, w io.Writer) LoggerService {
	return &LoggerServiceImpl{
		cfg: config.LogConfig{
			Level:      level,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		},
		name:   name,
		level:  Parse(level),
		writer: w,
		mu:     &sync.Mutex{},
	}
}

// Discard returns a logger that drops everything.
func Discard() LoggerService {
	return NewWriterLogger("", "fatal", io.Discard)
}

func (impl *LoggerServiceImpl) setupWriter() {
	var writers []io.Writer

	if !impl.cfg.NoTerminal {
		writers = append(writers, os.Stdout)
	}

	if impl.cfg.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   impl.cfg.File,
			MaxSize:    impl.cfg.Rotation.MaxSize,
			MaxBackups: impl.cfg.Rotation.MaxBackups,
			MaxAge:     impl.cfg.Rotation.MaxAge,
			Compress:   impl.cfg.Rotation.Compress,
		}
		writers = append(writers, fileWriter)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	impl.writer = io.MultiWriter(writers...)
}

func (impl *LoggerServiceImpl) log(level LogLevel, msg string, args ...any) {
	if level < impl.level {
		return
	}

	timestamp := time.Now().Format(impl.cfg.TimeFormat)
	formattedMsg := msg
	if len(args) > 0 {
		formattedMsg = fmt.Sprintf(msg, args...)
	}

	impl.mu.Lock()
	defer impl.mu.Unlock()

	if impl.cfg.JSON {
		entry := logEntry{
			Timestamp: timestamp,
			Level:     level.String(),
			Message:   formattedMsg,
		}
		if impl.name != "" {
			entry.Service = impl.name
		}

		jsonBytes, _ := json.Marshal(entry)
		fmt.Fprintf(impl.writer, "%s\n", jsonBytes)
	} else {
		prefix := fmt.Sprintf("[%s] %-5s", timestamp, level)
		if impl.name != "" {
			prefix = fmt.Sprintf("%s [%s]", prefix, impl.name)
		}

		if !impl.cfg.NoTerminal && !impl.cfg.NoColor {
			fmt.Fprintf(impl.writer, "%s%s %s\033[0m\n", Color(level), prefix, formattedMsg)
		} else {
			fmt.Fprintf(impl.writer, "%s %s\n", prefix, formattedMsg)
		}
	}

	if level == Fatal {
		os.Exit(1)
	}
}

func (impl *LoggerServiceImpl) Debug(msg string, args ...any) {
	impl.log(Debug, msg, args...)
}

func (impl *LoggerServiceImpl) Info(msg string, args ...any) {
	impl.log(Info, msg, args...)
}

func (impl *LoggerServiceImpl) Warn(msg string, args ...any) {
	impl.log(Warn, msg, args...)
}

func (impl *LoggerServiceImpl) Error(msg string, args ...any) {
	impl.log(Error, msg, args...)
}

func (impl *LoggerServiceImpl) Fatal(msg string, args ...any) {
	impl.log(Fatal, msg, args...)
}

func (impl *LoggerServiceImpl) Named(name string) LoggerService {
	full := name
	if impl.name != "" {
		full = fmt.Sprintf("%s/%s", impl.name, name)
	}
	return &LoggerServiceImpl{
		cfg:    impl.cfg,
		name:   full,
		level:  impl.level,
		writer: impl.writer, // Share the same writer
		mu:     impl.mu,
	}
}
