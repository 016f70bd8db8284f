package observability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFileName = "synthesis-gateway.log"

var (
	globalLogger zerolog.Logger
	initialized  bool
	logMu        sync.Mutex
	logFile      *os.File
)

// InitLogger initializes the global structured logger
func InitLogger(level string, pretty bool) {
	_ = InitLoggerWithDir(level, pretty, "")
}

// InitLoggerWithDir initializes the global logger and, when dir is set,
// mirrors JSON lines into dir/synthesis-gateway.log.
func InitLoggerWithDir(level string, pretty bool, dir string) error {
	logMu.Lock()
	defer logMu.Unlock()

	if initialized {
		return nil
	}

	zerolog.SetGlobalLevel(parseLevel(level))

	var out io.Writer = os.Stdout
	if pretty {
		// Pretty console output for development
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	var fileErr error
	if dir != "" {
		f, err := openLogFile(dir)
		if err != nil {
			fileErr = err
		} else {
			logFile = f
			out = zerolog.MultiLevelWriter(out, f)
		}
	}

	globalLogger = zerolog.New(out).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = globalLogger

	initialized = true

	return fileErr
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return f, nil
}

// CloseLogger flushes and closes the log file, if any.
func CloseLogger() error {
	logMu.Lock()
	defer logMu.Unlock()

	if logFile == nil {
		return nil
	}

	err := logFile.Close()
	logFile = nil

	return err
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	logMu.Lock()
	ready := initialized
	logMu.Unlock()

	if !ready {
		// Initialize with defaults if not already initialized
		InitLogger("info", false)
	}

	return globalLogger
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return GetLogger().With().Str("component", name).Logger()
}

// WithCorrelationID derives a logger carrying a correlation ID, generating
// one when correlationID is empty.
func WithCorrelationID(logger zerolog.Logger, correlationID string) (zerolog.Logger, string) {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return logger.With().Str("correlation_id", correlationID).Logger(), correlationID
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}
