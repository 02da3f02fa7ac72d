package bootstrap

import (
	"context"
	"fmt"

	"leadpipe/internal/config"
	"leadpipe/internal/logger"
)

// Closer is anything owned by Base that must be released on shutdown.
type Closer interface {
	Close() error
}

type Base struct {
	Config  *config.Config
	Logger  logger.Logger
	closers []namedCloser
}

type namedCloser struct {
	name   string
	closer Closer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// Track registers a resource constructed during initialization. Resources
// are closed in reverse order of registration.
func (b *Base) Track(name string, c Closer) {
	if c == nil {
		return
	}
	b.closers = append(b.closers, namedCloser{name: name, closer: c})
}

func (b *Base) closeTracked() []error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		nc := b.closers[i]
		if err := nc.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close error: %w", nc.name, err))
		}
	}
	b.closers = nil
	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.closeTracked()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
