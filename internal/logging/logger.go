package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/TheGojiOG/saveload/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu        sync.RWMutex
	logger    *slog.Logger
	logCloser io.Closer
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Init builds the process logger from cfg and routes the standard log
// package through it. Calling Init again replaces the previous logger.
func Init(cfg config.LoggingConfig) (*slog.Logger, error) {
	output, closer, err := buildOutput(cfg)
	if err != nil {
		return L(), err
	}

	level := parseLevel(cfg.Level)
	options := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	next := slog.New(handler)

	mu.Lock()
	previous := logCloser
	logger = next
	logCloser = closer
	mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	slog.SetDefault(next)
	log.SetFlags(0)
	log.SetOutput(stdWriter{})

	return next, nil
}

// L returns the process logger. Before Init it discards everything.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return discard
	}
	return logger
}

// Component returns L() tagged with the component name
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// Close flushes the rotating log file, if any
func Close() error {
	mu.Lock()
	closer := logCloser
	logCloser = nil
	mu.Unlock()

	if closer != nil {
		return closer.Close()
	}
	return nil
}

// stdWriter receives log.Printf output. A leading "[Name] " becomes the
// component attribute.
type stdWriter struct{}

func (stdWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}

	component, text := splitComponent(msg)
	if component == "" {
		L().Info(text)
		return len(p), nil
	}
	Component(component).Info(text)
	return len(p), nil
}

func splitComponent(msg string) (string, string) {
	if !strings.HasPrefix(msg, "[") {
		return "", msg
	}
	end := strings.Index(msg, "] ")
	if end <= 1 || strings.ContainsAny(msg[1:end], " []") {
		return "", msg
	}
	return strings.ToLower(msg[1:end]), msg[end+2:]
}

func buildOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	if strings.TrimSpace(cfg.File) == "" {
		return os.Stdout, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, err
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}

	return io.MultiWriter(os.Stdout, rotating), rotating, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
