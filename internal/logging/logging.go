// Package logging wraps logrus with the two-sink split the CLI exposes
// (--stderr-log-level, --file-log-level, --log-file). No package-global
// logger is kept: New returns a value the caller threads through the
// pipeline constructor.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Levels mirrors the CLI's two independently configurable verbosities.
type Levels struct {
	Stderr logrus.Level
	File   logrus.Level
	Path   string // empty disables the file sink
}

// New builds a *logrus.Logger writing to stderr at Levels.Stderr and,
// optionally, to Levels.Path at Levels.File. Both formatters are
// logrus.TextFormatter with full timestamps: plain, greppable log lines,
// with no downstream aggregator to ask for JSON.
func New(levels Levels) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetLevel(maxLevel(levels.Stderr, levels.File))
	logger.SetOutput(io.Discard)

	logger.AddHook(&levelHook{
		level:     levels.Stderr,
		writer:    os.Stderr,
		formatter: &logrus.TextFormatter{FullTimestamp: true},
	})

	if levels.Path != "" {
		f, err := os.OpenFile(levels.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		logger.AddHook(&levelHook{
			level:     levels.File,
			writer:    f,
			formatter: &logrus.TextFormatter{FullTimestamp: true, DisableColors: true},
		})
	}

	return logger, nil
}

func maxLevel(a, b logrus.Level) logrus.Level {
	if a > b {
		return a
	}
	return b
}

// levelHook routes entries at or below its configured level to one writer,
// using its own formatter. Two of these (one per sink) replace logrus's
// single-output model, which otherwise can't give stderr and the log file
// different verbosities.
type levelHook struct {
	level     logrus.Level
	writer    io.Writer
	formatter logrus.Formatter
}

func (h *levelHook) Levels() []logrus.Level {
	return logrus.AllLevels[:h.level+1]
}

func (h *levelHook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(b)
	return err
}
