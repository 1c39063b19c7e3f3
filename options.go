package lazypkg

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

type config struct {
	backend Backend
	logger  *log.Logger
	global  any
	clock   func() time.Time
	loop    *Loop
}

// Option configures a Runtime.
type Option func(*config)

// WithBackend sets the loader backend. Without one, fetch requests and stylesheets
// are dropped.
func WithBackend(backend Backend) Option {
	return func(cfg *config) {
		cfg.backend = backend
	}
}

// WithLogger sets the runtime logger.
func WithLogger(logger *log.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithGlobal sets the execution context handed to every module factory.
func WithGlobal(global any) Option {
	return func(cfg *config) {
		cfg.global = global
	}
}

// WithClock overrides the clock used for registration stamps.
func WithClock(clock func() time.Time) Option {
	return func(cfg *config) {
		cfg.clock = clock
	}
}

// WithLoop runs the runtime on an existing loop.
func WithLoop(loop *Loop) Option {
	return func(cfg *config) {
		cfg.loop = loop
	}
}

func applyOptions(opts []Option) config {
	cfg := config{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.backend == nil {
		cfg.backend = nopBackend{}
	}
	if cfg.logger == nil {
		cfg.logger = log.New(io.Discard)
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	return cfg
}

type nopBackend struct{}

func (nopBackend) RequestPackages([]string, int64) error { return nil }

func (nopBackend) InjectStylesheet(string, string) error { return nil }
