package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	slogotel "github.com/remychantenay/slog-otel"
)

var LogLevel = new(slog.LevelVar)

var jsonHandler = slog.NewJSONHandler(
	os.Stderr,
	&slog.HandlerOptions{AddSource: true, Level: LogLevel},
)
var sloghandler = slogotel.NewOtelHandler(slogotel.WithNoTraceEvents(true))
var Handler = sloghandler(jsonHandler)
var Logger = slog.New(Handler)

func InitSlog() {
	slog.SetDefault(Logger)
	LogLevel.Set(slog.LevelDebug)
}

// Human readable output for interactive tools. Replaces the package logger.
func InitConsole(w io.Writer) {
	Handler = sloghandler(tint.NewHandler(w, &tint.Options{
		Level:      LogLevel,
		TimeFormat: time.Kitchen,
	}))
	Logger = slog.New(Handler)
	slog.SetDefault(Logger)
}
