package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

const (
	logFileName      = "whiteboard.log"
	debugLogFileName = "whiteboard-debug.log"
)

// New returns a logger for the relay. format is "text" or "json"; an unknown
// level falls back to info.
func New(out io.Writer, format, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// Files holds the client's log files so they can be closed on exit.
type Files struct {
	files []*os.File
}

// Close closes every log file and joins the errors.
func (f *Files) Close() error {
	var errs []error
	for _, file := range f.files {
		if err := file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", file.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SetupClient routes a client's logs into files under dir because the
// terminal belongs to the canvas. Warnings and errors go to one file,
// trace through info to a second one.
func SetupClient(logger *logrus.Logger, dir string) (*Files, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	debugLogFile, err := os.OpenFile(filepath.Join(dir, debugLogFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("open debug log file: %w", err)
	}

	// discard default output, the hooks do the writing
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.DebugLevel)

	logger.AddHook(&writer.Hook{
		Writer: logFile,
		LogLevels: []logrus.Level{
			logrus.WarnLevel,
			logrus.ErrorLevel,
			logrus.FatalLevel,
			logrus.PanicLevel,
		},
	})

	logger.AddHook(&writer.Hook{
		Writer: debugLogFile,
		LogLevels: []logrus.Level{
			logrus.TraceLevel,
			logrus.DebugLevel,
			logrus.InfoLevel,
		},
	})

	return &Files{files: []*os.File{logFile, debugLogFile}}, nil
}
