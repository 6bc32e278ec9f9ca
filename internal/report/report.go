// Package report appends job statistics to per-job log files.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Write appends stats as one JSON line to <dir>/<op>.log, creating the
// directory if needed. Dashes in op become underscores in the file name.
// An empty dir disables reporting.
func Write(dir, op string, stats any) error {
	if dir == "" {
		return nil
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding %s stats: %w", op, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating stats directory: %w", err)
	}

	path := filepath.Join(dir, strings.ReplaceAll(op, "-", "_")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening stats log: %w", err)
	}

	werr := writeLine(f, op, b)
	if err := f.Close(); err != nil && werr == nil {
		werr = err
	}
	if werr != nil {
		return fmt.Errorf("writing stats log: %w", werr)
	}
	return nil
}

// writeLine emits one stats event to w and returns the first write error,
// which zerolog would otherwise only hand to its global ErrorHandler.
func writeLine(w io.Writer, op string, stats []byte) error {
	ew := &errWriter{w: w}
	logger := zerolog.New(ew)
	logger.Log().Timestamp().Str("op", op).RawJSON("stats", stats).Send()
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil && e.err == nil {
		e.err = err
	}
	return n, err
}
