package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger настраивает structured logging сервиса и ставит
// логгер глобальным по умолчанию.
//
// LOG_LEVEL: DEBUG, INFO, WARN, ERROR (по умолчанию INFO).
// LOG_FORMAT: json для production (по умолчанию), text для разработки.
func SetupLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLevel разбирает уровень логирования; пустое или неизвестное
// значение трактуется как INFO.
func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}
