package cliutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

type LogOptions struct {
	// debug|info|warn|error
	Level string
	// text|json
	Format string
	// file to write to; "" or "-" for stderr. %T is replaced by UnixMilli when the file is opened
	Path string
	// rotate once a file grows past this many bytes; 0 never rotates
	RotateBytes int64
	// rotated files to keep besides the current one; <0 keeps all
	KeepOld int
}

func firstenv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", s)
	}
}

// SetupSlog builds the process logger from opts, filling blanks from the environment, and makes it the slog default. Logs of the ipfs libraries are sent to the same place.
//
// LIBIDX_LOG_LEVEL=info|debug|warn|error
//
// LIBIDX_LOG_FMT=text|json
//
// LIBIDX_LOG_FILE=path (or "-" for stderr)
//
// LIBIDX_LOG_ROTATE_BYTES=int, LIBIDX_LOG_ROTATE_KEEP=int
//
// The GOLOG_ variables of the ipfs logging library are honored as fallbacks.
func SetupSlog(opts LogOptions) (*slog.Logger, error) {
	if opts.Level == "" {
		opts.Level = firstenv("LIBIDX_LOG_LEVEL", "GOLOG_LOG_LEVEL")
	}
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Format == "" {
		opts.Format = firstenv("LIBIDX_LOG_FMT", "GOLOG_LOG_FMT")
	}
	opts.Format = strings.ToLower(opts.Format)
	if opts.Format == "" {
		opts.Format = "text"
	}
	if opts.Path == "" {
		opts.Path = firstenv("LIBIDX_LOG_FILE", "GOLOG_FILE")
	}
	if opts.RotateBytes == 0 {
		if s := os.Getenv("LIBIDX_LOG_ROTATE_BYTES"); s != "" {
			if opts.RotateBytes, err = strconv.ParseInt(s, 10, 64); err != nil {
				return nil, fmt.Errorf("invalid LIBIDX_LOG_ROTATE_BYTES: %w", err)
			}
		}
	}
	if opts.KeepOld == 0 {
		opts.KeepOld = 2
		if s := os.Getenv("LIBIDX_LOG_ROTATE_KEEP"); s != "" {
			if opts.KeepOld, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("invalid LIBIDX_LOG_ROTATE_KEEP: %w", err)
			}
		}
	}

	var out io.Writer
	switch {
	case opts.Path == "" || opts.Path == "-":
		out = os.Stderr
	case opts.RotateBytes > 0:
		out = &rotatingWriter{template: opts.Path, limit: opts.RotateBytes, keep: opts.KeepOld}
	default:
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
	}

	hopts := &slog.HandlerOptions{Level: level, AddSource: true}
	var handler slog.Handler
	switch opts.Format {
	case "text":
		handler = slog.NewTextHandler(out, hopts)
	case "json":
		handler = slog.NewJSONHandler(out, hopts)
	default:
		return nil, fmt.Errorf("invalid log format: %q", opts.Format)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	routeIpfsLogs(out, opts.Format, level)
	return logger, nil
}

// rotatingWriter writes to a fresh file, named after its template, whenever the current one would grow past limit.
type rotatingWriter struct {
	template string
	limit    int64
	keep     int

	lk      sync.Mutex
	cur     *os.File
	written int64
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.lk.Lock()
	defer w.lk.Unlock()
	if w.cur != nil && w.written+int64(len(p)) > w.limit {
		w.cur.Close()
		w.cur = nil
	}
	if w.cur == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.cur.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *rotatingWriter) open() error {
	path := strings.ReplaceAll(w.template, "%T", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if path == w.template {
		path = fmt.Sprintf("%s.%d", w.template, time.Now().UnixMilli())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w.cur = f
	w.written = 0
	w.prune(path)
	return nil
}

// prune removes the oldest rotated files beyond keep. Failures are not worth failing a log write over.
func (w *rotatingWriter) prune(current string) {
	if w.keep < 0 {
		return
	}
	pattern := strings.ReplaceAll(w.template, "%T", "*")
	if pattern == w.template {
		pattern = w.template + ".*"
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	type old struct {
		path  string
		mtime time.Time
	}
	var olds []old
	for _, m := range matches {
		if m == current {
			continue
		}
		if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
			olds = append(olds, old{m, fi.ModTime()})
		}
	}
	if len(olds) <= w.keep {
		return
	}
	slices.SortFunc(olds, func(a, b old) int { return a.mtime.Compare(b.mtime) })
	for _, o := range olds[:len(olds)-w.keep] {
		os.Remove(o.path)
	}
}
