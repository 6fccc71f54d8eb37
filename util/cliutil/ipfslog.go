package cliutil

import (
	"io"
	"log/slog"

	ipfslog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap/zapcore"
)

// routeIpfsLogs sends the logs of the ipfs datastore and blockstore libraries to out, filtered to the same level as the process logger.
func routeIpfsLogs(out io.Writer, format string, level slog.Level) {
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "system",
		MessageKey:     "msg",
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	var ze zapcore.Encoder
	switch format {
	case "json":
		ze = zapcore.NewJSONEncoder(ec)
	default:
		ze = zapcore.NewConsoleEncoder(ec)
	}
	var zl zapcore.Level
	switch {
	case level <= slog.LevelDebug:
		zl = zapcore.DebugLevel
	case level <= slog.LevelInfo:
		zl = zapcore.InfoLevel
	case level <= slog.LevelWarn:
		zl = zapcore.WarnLevel
	default:
		zl = zapcore.ErrorLevel
	}
	ipfslog.SetPrimaryCore(zapcore.NewCore(ze, zapcore.AddSync(out), zl))
}
