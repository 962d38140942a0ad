package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration.
type Config struct {
	Level          string `json:"level"`
	Format         string `json:"format"`
	FilePath       string `json:"file_path,omitempty"`
	FileMaxSizeMB  int    `json:"file_max_size_mb,omitempty"`
	FileMaxFiles   int    `json:"file_max_files,omitempty"`
	FileMaxAgeDays int    `json:"file_max_age_days,omitempty"`
}

// needsRebuild reports whether moving from c to next requires a new handler.
// Level changes never do.
func (c Config) needsRebuild(next Config) bool {
	return next.Format != c.Format ||
		next.FilePath != c.FilePath ||
		next.FileMaxSizeMB != c.FileMaxSizeMB ||
		next.FileMaxFiles != c.FileMaxFiles ||
		next.FileMaxAgeDays != c.FileMaxAgeDays
}

type generation struct {
	n uint64
	h slog.Handler
}

type derived struct {
	gen uint64
	h   slog.Handler
}

// SwappableHandler is a thread-safe slog.Handler whose root handler can be
// replaced at runtime. Handlers derived through WithAttrs/WithGroup follow
// the swap, so component loggers built at startup pick up format changes.
type SwappableHandler struct {
	root   *atomic.Pointer[generation]
	derive func(slog.Handler) slog.Handler
	cache  atomic.Pointer[derived]
}

// NewSwappableHandler creates a SwappableHandler wrapping h.
func NewSwappableHandler(h slog.Handler) *SwappableHandler {
	root := &atomic.Pointer[generation]{}
	root.Store(&generation{h: h})
	return &SwappableHandler{root: root}
}

// Swap replaces the root handler for s and every handler derived from it.
func (s *SwappableHandler) Swap(h slog.Handler) {
	for {
		cur := s.root.Load()
		if s.root.CompareAndSwap(cur, &generation{n: cur.n + 1, h: h}) {
			return
		}
	}
}

func (s *SwappableHandler) current() slog.Handler {
	g := s.root.Load()
	if s.derive == nil {
		return g.h
	}
	if d := s.cache.Load(); d != nil && d.gen == g.n {
		return d.h
	}
	h := s.derive(g.h)
	s.cache.Store(&derived{gen: g.n, h: h})
	return h
}

// Enabled delegates to the current handler.
func (s *SwappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.current().Enabled(ctx, level)
}

// Handle delegates to the current handler.
func (s *SwappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.current().Handle(ctx, r)
}

// WithAttrs returns a handler that adds attrs on top of whatever the root is.
func (s *SwappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.chain(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup returns a handler that opens group on top of whatever the root is.
func (s *SwappableHandler) WithGroup(name string) slog.Handler {
	return s.chain(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (s *SwappableHandler) chain(step func(slog.Handler) slog.Handler) *SwappableHandler {
	parent := s.derive
	return &SwappableHandler{
		root: s.root,
		derive: func(h slog.Handler) slog.Handler {
			if parent != nil {
				h = parent(h)
			}
			return step(h)
		},
	}
}

// Manager owns the logger lifecycle and supports runtime reconfiguration.
type Manager struct {
	levelVar *slog.LevelVar
	handler  *SwappableHandler
	console  io.Writer
	config   Config
	mu       sync.Mutex
	closer   io.Closer // lumberjack writer, if any
}

// Option configures a Manager.
type Option func(*Manager)

// WithConsole sends console output to w instead of stdout. The resolve CLI
// uses stderr so its stdout stays machine-readable.
func WithConsole(w io.Writer) Option {
	return func(m *Manager) { m.console = w }
}

// NewManager creates a Manager and returns it along with a ready-to-use logger.
func NewManager(cfg Config, opts ...Option) (*Manager, *slog.Logger) {
	m := &Manager{
		levelVar: &slog.LevelVar{},
		console:  os.Stdout,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.levelVar.Set(parseLevel(cfg.Level))

	writer, closer := buildWriter(m.console, cfg)
	m.handler = NewSwappableHandler(buildHandler(writer, m.levelVar, cfg.Format))
	m.closer = closer

	return m, slog.New(m.handler)
}

// Reconfigure applies a new configuration at runtime. Level-only changes
// are instant via LevelVar; format or output changes rebuild the handler.
// It reports whether the handler was rebuilt.
func (m *Manager) Reconfigure(cfg Config) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(parseLevel(cfg.Level))

	rebuilt := m.config.needsRebuild(cfg)
	if rebuilt {
		if m.closer != nil {
			m.closer.Close() //nolint:errcheck
			m.closer = nil
		}
		writer, closer := buildWriter(m.console, cfg)
		m.handler.Swap(buildHandler(writer, m.levelVar, cfg.Format))
		m.closer = closer
	}

	m.config = cfg
	return rebuilt
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases resources (e.g. the log file writer).
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer != nil {
		err := m.closer.Close()
		m.closer = nil
		return err
	}
	return nil
}

// parseLevel converts a string to slog.Level, defaulting to Info.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FormatLevel converts a slog.Level to its string name.
func FormatLevel(l slog.Level) string {
	switch l {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// buildWriter returns console alone, or console plus a rotating file when a
// path is configured. The closer is the rotating file, if any.
func buildWriter(console io.Writer, cfg Config) (io.Writer, io.Closer) {
	if cfg.FilePath == "" {
		return console, nil
	}

	d := DefaultConfig()
	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    positiveOr(cfg.FileMaxSizeMB, d.FileMaxSizeMB),
		MaxBackups: positiveOr(cfg.FileMaxFiles, d.FileMaxFiles),
		MaxAge:     positiveOr(cfg.FileMaxAgeDays, d.FileMaxAgeDays),
	}
	return io.MultiWriter(console, lj), lj
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// buildHandler creates a slog.Handler with the given writer, leveler, and format.
func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ValidLevel returns true if s is a recognized log level.
func ValidLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ValidFormat returns true if s is a recognized log format.
func ValidFormat(s string) bool {
	switch s {
	case "text", "json":
		return true
	}
	return false
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:          "info",
		Format:         "json",
		FileMaxSizeMB:  100,
		FileMaxFiles:   3,
		FileMaxAgeDays: 30,
	}
}

// String returns a human-readable summary of the config.
func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.FilePath != "" {
		s += fmt.Sprintf(" file=%s max_size=%dMB max_files=%d max_age=%dd",
			c.FilePath, c.FileMaxSizeMB, c.FileMaxFiles, c.FileMaxAgeDays)
	}
	return s
}
