package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Verbosity levels accepted on the command line.
const (
	Quiet   = "quiet"
	Error   = "error"
	Warning = "warning"
	Info    = "info"
	Debug   = "debug"
)

func ParseLevel(verbosity string) (slog.Level, bool, error) {
	switch strings.ToLower(verbosity) {
	case Quiet:
		return slog.LevelError, true, nil
	case Error:
		return slog.LevelError, false, nil
	case Warning, "warn", "":
		return slog.LevelWarn, false, nil
	case Info:
		return slog.LevelInfo, false, nil
	case Debug:
		return slog.LevelDebug, false, nil
	}
	return slog.LevelWarn, false, fmt.Errorf("unknown verbosity %q", verbosity)
}

// New builds a tint logger writing to w. The quiet level discards everything.
func New(w io.Writer, verbosity string) (*slog.Logger, error) {
	level, quiet, err := ParseLevel(verbosity)
	if err != nil {
		return nil, err
	}
	if quiet {
		w = io.Discard
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		AddSource:  level == slog.LevelDebug,
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(w),
	})), nil
}

// Init installs the logger for verbosity as the slog default, on stderr.
func Init(verbosity string) error {
	logger, err := New(os.Stderr, verbosity)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	slog.Debug("logger initialized", "verbosity", verbosity)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
