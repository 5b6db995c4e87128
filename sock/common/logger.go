package common

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

// loggerNames are the loggers of all dNet packages
var loggerNames = []string{
	"transport/base",
	"transport/tcp",
	"transport/unix",
	"transport/http",
	"cli",
}

// factoryOnce guards logger.SetLoggerFactory, which panics when called twice
var factoryOnce sync.Once

// --------------------------------------------------------------------------
// Line logger
// --------------------------------------------------------------------------

// lineLogger writes one "time LEVEL | package | message" line per call to stdout.
// The level may change while other goroutines log.
type lineLogger struct {
	pkg   string
	level atomic.Int32
	out   *log.Logger
}

func (l *lineLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *lineLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *lineLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.write("DEBUG", format, args)
	}
}

func (l *lineLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.write("INFO", format, args)
	}
}

func (l *lineLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.write("WARN", format, args)
	}
}

func (l *lineLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.write("ERROR", format, args)
	}
}

func (l *lineLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("%-5s | %-15s | %s", "PANIC", l.pkg, msg)
	panic(msg)
}

func (l *lineLogger) write(tag, format string, args []interface{}) {
	l.out.Printf("%-5s | %-15s | %s", tag, l.pkg, fmt.Sprintf(format, args...))
}

// CreateLogger is the logger.Factory of dNet
func CreateLogger(pkgName string) logger.ILogger {
	l := &lineLogger{
		pkg: pkgName,
		out: log.New(os.Stdout, "", log.Ldate|log.Ltime),
	}
	l.level.Store(int32(logger.INFO))
	return l
}

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("%w: invalid log level: %s. must be one of debug, info, warn, error", ErrInvalidConfig, level)
	}
}

// --------------------------------------------------------------------------
// Initialization
// --------------------------------------------------------------------------

// InitLoggers sets the level of all dNet loggers. It may be called any number of times.
// The dNet factory is installed on the first call unless the process already set its own.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	factoryOnce.Do(installFactory)

	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}

// installFactory installs CreateLogger. A factory set earlier by the embedding program wins.
func installFactory() {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger("transport/base").Debugf("Keeping the installed logger factory: %v", r)
		}
	}()
	logger.SetLoggerFactory(CreateLogger)
}
