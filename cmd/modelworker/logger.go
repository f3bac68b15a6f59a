package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %q: %v", key, err))
	}
}

func buildLogger(out io.Writer, format string, level string) (*slog.Logger, error) {
	normalizedFormat := strings.ToLower(strings.TrimSpace(format))
	normalizedLevel := strings.ToLower(strings.TrimSpace(level))

	var slogLevel slog.Level
	switch normalizedLevel {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info", "":
		slogLevel = slog.LevelInfo
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: slogLevel}
	switch normalizedFormat {
	case "json", "":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	case "discard":
		return slog.New(slog.NewJSONHandler(io.Discard, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}
