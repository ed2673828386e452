package log

import "strings"

type LogLevel int

const (
	Debug LogLevel = iota
	Info
	Warn
	Error
	Fatal
)

// Parse maps a level name to a LogLevel; unknown names fall back to Info.
func Parse(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "TRACE":
		return Debug
	case "INFO":
		return Info
	case "WARN", "WARNING":
		return Warn
	case "ERROR":
		return Error
	case "FATAL":
		return Fatal
	default:
		return Info
	}
}

func (l LogLevel) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "INFO"
	}
}

// Color returns the ANSI escape used for the given level.
func Color(l LogLevel) string {
	switch l {
	case Debug:
		return "\033[90m"
	case Warn:
		return "\033[33m"
	case Error, Fatal:
		return "\033[31m"
	default:
		return "\033[0m"
	}
}
