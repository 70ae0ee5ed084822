// Package logging wires charmbracelet/log into the core the way
// blampe-rreading-glasses's main.go does: a single configurable logger
// carried through context.Context, with a request id attached per call.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
)

type ctxKey struct{}

// Config mirrors main.go's embeddable logconfig flag struct.
type Config struct {
	Level  string `help:"log level: debug, info, warn, error." default:"info" enum:"debug,info,warn,error"`
	Format string `help:"log format: text or json." default:"text" enum:"text,json"`
}

// New builds a *log.Logger from cfg, writing to w (os.Stderr in production).
// When w is a terminal and format is "text", colored output is enabled,
// matching the teacher's isatty check in main.go.
func New(cfg Config, w io.Writer) *log.Logger {
	opts := log.Options{
		ReportTimestamp: true,
		ReportCaller:    cfg.Level == "debug",
	}
	logger := log.NewWithOptions(w, opts)

	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)

	if cfg.Format == "json" {
		logger.SetFormatter(log.JSONFormatter)
	} else if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		logger.SetColorProfile(logger.ColorProfile())
	}
	return logger
}

// WithLogger returns a context carrying logger, retrievable with Log.
func WithLogger(ctx context.Context, logger *log.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// WithRequestID returns a context whose logger (existing or a new default)
// has "request_id" bound into every subsequent log line.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	l := Log(ctx).With("request_id", requestID)
	return WithLogger(ctx, l)
}

var fallback = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

// Log returns the logger carried by ctx, or a package-level fallback logger
// writing to stderr if none was attached.
func Log(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*log.Logger); ok && l != nil {
		return l
	}
	return fallback
}
