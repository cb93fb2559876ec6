// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the level and optional log file.
type Config struct {
	Level string
	File  string
}

// Setup applies cfg to the standard logrus logger. When a file is set, logs
// go to both stderr and the rotated file. The returned closer releases the
// file.
func Setup(cfg Config) (io.Closer, error) {
	level := log.InfoLevel
	if raw := strings.TrimSpace(cfg.Level); raw != "" {
		parsed, err := log.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		LocalTime:  true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, file))
	return file, nil
}
