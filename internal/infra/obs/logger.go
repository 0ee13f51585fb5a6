package obs

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger builds the process logger: tinted output for interactive runs,
// JSON elsewhere. LOG_LEVEL=debug raises verbosity; session churn and event
// routing log at debug and stay quiet by default.
func NewLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	writer := os.Stdout
	switch strings.ToLower(env) {
	case "dev", "local", "debug":
		return slog.New(tint.NewHandler(writer, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		}))
	default:
		return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level: level,
		}))
	}
}
