package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Logger contains node logger configuration.
type Logger struct {
	LogEncoding  string `yaml:"LogEncoding"`
	LogLevel     string `yaml:"LogLevel"`
	LogPath      string `yaml:"LogPath"`
	LogTimestamp *bool  `yaml:"LogTimestamp,omitempty"`
}

// Validate returns an error if Logger configuration is not valid.
func (l Logger) Validate() error {
	if len(l.LogEncoding) > 0 && l.LogEncoding != "console" && l.LogEncoding != "json" {
		return fmt.Errorf("invalid LogEncoding: %s", l.LogEncoding)
	}
	return nil
}

// NewLogger builds a zap.Logger from l. LogPath, if set, directs output to
// that file instead of stderr (the file is opened for appending, never
// truncated or rotated; operators wanting rotation front this with their
// own logrotate).
func (l Logger) NewLogger(debug bool) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if len(l.LogLevel) > 0 {
		parsed, err := zapcore.ParseLevel(l.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("log setting: %w", err)
		}
		level = parsed
	}
	if debug {
		level = zapcore.DebugLevel
	}
	encoding := l.LogEncoding
	if encoding == "" {
		encoding = "console"
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.Encoding = encoding
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	// When LogTimestamp isn't set explicitly, only add our own timestamp if
	// stdout is a terminal; a supervisor (systemd, docker) typically
	// already stamps each line and a second timestamp just adds noise.
	wantTimestamp := l.LogTimestamp != nil && *l.LogTimestamp
	if l.LogTimestamp == nil {
		wantTimestamp = term.IsTerminal(int(os.Stdout.Fd()))
	}
	if wantTimestamp {
		cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cc.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {}
	}

	if l.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(l.LogPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory for %s: %w", l.LogPath, err)
		}
		cc.OutputPaths = []string{l.LogPath}
		cc.ErrorOutputPaths = []string{l.LogPath}
	}

	log, err := cc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return log, log.Sync, nil
}
