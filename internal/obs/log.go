package obs

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	loggerMu sync.RWMutex
	logger   = newLogger(os.Stdout)
)

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Logger returns the shared structured logger used across the services.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogOutput redirects the shared logger, returning a func that restores
// the previous one. Intended for tests.
func SetLogOutput(w io.Writer) (restore func()) {
	loggerMu.Lock()
	prev := logger
	logger = newLogger(w)
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		logger = prev
		loggerMu.Unlock()
	}
}

// LogRequest emits the request_complete line for one HTTP exchange.
func LogRequest(requestID, method, path string, status int, durationMS int64) {
	Logger().Info("request_complete",
		slog.String("request_id", requestID),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Int64("duration_ms", durationMS),
	)
}
