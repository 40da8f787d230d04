package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	instance *Logger
	once     sync.Once
)

// Logger handles dual logging to console and file.
//
// When Conduit runs embedded in a host whose stdout is a data pipe
// (MCP stdio mode), console output goes to stderr only.
type Logger struct {
	infoLogger  *log.Logger
	errorLogger *log.Logger
	debugLogger *log.Logger
	logFile     *os.File
	debug       bool
	mu          sync.Mutex
}

// Options controls logger initialization.
type Options struct {
	// Console enables mirroring to stdout/stderr in addition to the file.
	Console bool
	// Debug enables Debug-level messages.
	Debug bool
}

// Init initializes the global logger instance
func Init(logDir string, opts Options) error {
	var initErr error
	once.Do(func() {
		instance, initErr = newLogger(logDir, opts)
	})
	return initErr
}

// newLogger creates a new logger that writes to a dated file and
// optionally mirrors to the console
func newLogger(logDir string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFileName := fmt.Sprintf("conduit-%s.log", time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(logDir, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	infoWriter := io.Writer(logFile)
	errorWriter := io.Writer(logFile)
	if opts.Console {
		infoWriter = io.MultiWriter(os.Stderr, logFile)
		errorWriter = io.MultiWriter(os.Stderr, logFile)
	}

	return &Logger{
		infoLogger:  log.New(infoWriter, "", log.LstdFlags),
		errorLogger: log.New(errorWriter, "ERROR: ", log.LstdFlags),
		debugLogger: log.New(infoWriter, "DEBUG: ", log.LstdFlags),
		logFile:     logFile,
		debug:       opts.Debug,
	}, nil
}

// Close closes the log file
func Close() error {
	if instance != nil && instance.logFile != nil {
		return instance.logFile.Close()
	}
	return nil
}

// SetDebug toggles Debug-level messages at runtime
func SetDebug(enabled bool) {
	if instance != nil {
		instance.mu.Lock()
		instance.debug = enabled
		instance.mu.Unlock()
	}
}

// Info logs an informational message
func Info(format string, v ...interface{}) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		instance.infoLogger.Printf(format, v...)
	}
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		instance.errorLogger.Printf(format, v...)
	}
}

// Debug logs a debug message when debug logging is enabled
func Debug(format string, v ...interface{}) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		if instance.debug {
			instance.debugLogger.Printf(format, v...)
		}
	}
}

// Printf logs a formatted message
func Printf(format string, v ...interface{}) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		instance.infoLogger.Printf(format, v...)
	}
}

// Fatalf logs a formatted fatal error and exits
func Fatalf(format string, v ...interface{}) {
	if instance != nil {
		instance.mu.Lock()
		instance.errorLogger.Fatalf(format, v...)
		instance.mu.Unlock()
	} else {
		log.Fatalf(format, v...)
	}
}
