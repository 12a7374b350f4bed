// Package logs holds the process-wide structured logger.
package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the shared logger.  It is usable before Init with logrus
// defaults.
var Logger = logrus.New()

type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	File   string // optional; output goes to stdout and the file
}

// Init configures Logger.  The returned closer releases the log file and
// is never nil.
func Init(o Options) (io.Closer, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(o.Level))
	if err != nil {
		if o.Level != "" {
			return nopCloser{}, fmt.Errorf("log level %q: %w", o.Level, err)
		}
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)

	switch strings.ToLower(o.Format) {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if o.File == "" {
		Logger.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(o.File), 0o755); err != nil {
		return nopCloser{}, fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(o.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nopCloser{}, fmt.Errorf("open log file: %w", err)
	}
	Logger.SetOutput(io.MultiWriter(os.Stdout, f))
	return f, nil
}

// With returns an entry tagged with the component name.
func With(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
