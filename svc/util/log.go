package util

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var globalLog = zerolog.New(os.Stdout).With().Timestamp().Logger()

type LogOptions struct {
	Level string
	Dev   bool
	// Out replaces stdout when set.
	Out io.Writer
	// File enables a rolling JSON log file next to stdout output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func InitLog(opts LogOptions) {
	var out io.Writer = os.Stdout
	if opts.Out != nil {
		out = opts.Out
	}
	if opts.Dev {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    nz(opts.MaxSizeMB, 100),
			MaxBackups: nz(opts.MaxBackups, 3),
			MaxAge:     nz(opts.MaxAgeDays, 7),
		})
	}
	zerolog.SetGlobalLevel(ParseLevel(opts.Level))
	globalLog = zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Logger()
	log.Logger = globalLog
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

func Debug() *zerolog.Event { return globalLog.Debug() }
func Info() *zerolog.Event  { return globalLog.Info() }
func Warn() *zerolog.Event  { return globalLog.Warn() }
func Error() *zerolog.Event { return globalLog.Error() }
func Fatal() *zerolog.Event { return globalLog.Fatal() }
func GetLogger() zerolog.Logger {
	return globalLog
}

func nz(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
