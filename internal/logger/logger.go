// Package logger provides the process-wide leveled logger shared by the
// client, the worker daemon, and every internal component.
package logger

import (
	"fmt"
	"io"
	baselog "log"
	"os"
	"runtime"
)

const (
	LevelTrace = 0
	LevelDebug = 1
	LevelInfo  = 2
	LevelWarn  = 3
	LevelError = 4
)

// Config controls where log output goes and how verbose it is.
type Config struct {
	Level   *int    `yaml:"Level,omitempty"`
	LogPath *string `yaml:"LogPath,omitempty"` // base path; ".log" and ".err" are appended
}

var (
	level  = LevelInfo
	out    = baselog.New(os.Stdout, "", baselog.Ldate|baselog.Ltime)
	errOut = baselog.New(os.Stderr, "", baselog.Ldate|baselog.Ltime)
)

// Init applies a Config, opening log files if LogPath is set. Safe to call
// once at process startup; uninitialized, the logger writes to stdout/stderr
// at LevelInfo.
func Init(cfg *Config) {
	level = LevelInfo
	if cfg != nil && cfg.Level != nil {
		level = *cfg.Level
	}

	logFile, errFile := os.Stdout, os.Stderr
	if cfg != nil && cfg.LogPath != nil {
		var err error
		logFile, err = os.OpenFile(*cfg.LogPath+".log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0660)
		if err != nil {
			panic(err)
		}
		errFile, err = os.OpenFile(*cfg.LogPath+".err", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0660)
		if err != nil {
			panic(err)
		}
	}

	flags := baselog.Ldate | baselog.Ltime
	out = baselog.New(logFile, "", flags)
	errOut = baselog.New(errFile, "", flags)

	Info("logger initialized")
}

func GetLevel() int { return level }

func Trace(format string, values ...any) { logPrint(LevelTrace, format, values...) }
func Debug(format string, values ...any) { logPrint(LevelDebug, format, values...) }
func Info(format string, values ...any)  { logPrint(LevelInfo, format, values...) }
func Warn(format string, values ...any)  { logPrint(LevelWarn, format, values...) }

// Error logs at LevelError (with caller location in the error stream) and
// returns the formatted error, so call sites can `return logger.Error(...)`.
func Error(format string, values ...any) error {
	logPrint(LevelError, format, values...)
	errOut.Printf(callerPrefix(0)+format, values...)
	return fmt.Errorf(format, values...)
}

// Panic logs like Error and then panics with the same error. Reserved for
// unrecoverable startup/configuration failures.
func Panic(format string, values ...any) {
	logPrint(LevelError, format, values...)
	errOut.Printf(callerPrefix(0)+format, values...)
	panic(fmt.Errorf(format, values...))
}

// PanicLevel is like Panic but reports a caller further up the stack; useful
// from small helper functions where the interesting frame is the caller.
func PanicLevel(skip int, format string, values ...any) {
	logPrint(LevelError, format, values...)
	errOut.Printf(callerPrefix(skip)+format, values...)
	panic(fmt.Errorf(format, values...))
}

type writer struct {
	level  int
	prefix string
}

func (w *writer) Write(p []byte) (int, error) {
	logPrint(w.level, "%s %s", w.prefix, string(p))
	return len(p), nil
}

// CreateWriter adapts the logger to an io.Writer at a fixed level, used to
// route gin's access/recovery logs through the same leveled sink.
func CreateWriter(level int, prefix string) io.Writer {
	return &writer{level: level, prefix: prefix}
}

func levelString(l int) string {
	switch l {
	case LevelTrace:
		return "[TRACE]"
	case LevelDebug:
		return "[DEBUG]"
	case LevelInfo:
		return "[INFO]"
	case LevelWarn:
		return "[WARN]"
	case LevelError:
		return "[ERROR]"
	default:
		return ""
	}
}

func logPrint(l int, format string, values ...any) {
	if level <= l {
		out.Printf(levelString(l)+" "+format, values...)
	}
}

func callerPrefix(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 2)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d ", file, line)
}
