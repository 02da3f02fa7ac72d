package spreadsheet

import (
	"context"
	"fmt"

	"leadpipe/internal/config"
	"leadpipe/pkg/circuitbreaker"
)

// CircuitBreakerSheet fails fast while the Sheets API keeps failing, so the
// worker requeues without waiting on timeouts.
type CircuitBreakerSheet struct {
	sheet Sheet
	cb    *circuitbreaker.Wrapper
	name  string
}

func NewCircuitBreakerSheet(sheet Sheet, name string, cfg circuitbreaker.Config) *CircuitBreakerSheet {
	return &CircuitBreakerSheet{
		sheet: sheet,
		cb:    circuitbreaker.NewWrapper(cfg),
		name:  name,
	}
}

func WrapWithCircuitBreaker(s Sheet, name string, cfg config.CircuitBreakerConfig) Sheet {
	if !cfg.Enabled {
		return s
	}
	cbConfig := circuitbreaker.FromConfig(name, cfg)
	return NewCircuitBreakerSheet(s, name, cbConfig)
}

func (s *CircuitBreakerSheet) Values(ctx context.Context) ([][]string, error) {
	var values [][]string
	err := s.run(ctx, func() error {
		var err error
		values, err = s.sheet.Values(ctx)
		return err
	})
	return values, err
}

func (s *CircuitBreakerSheet) RowCount(ctx context.Context) (int, error) {
	var n int
	err := s.run(ctx, func() error {
		var err error
		n, err = s.sheet.RowCount(ctx)
		return err
	})
	return n, err
}

func (s *CircuitBreakerSheet) AppendRows(ctx context.Context, n int) error {
	return s.run(ctx, func() error { return s.sheet.AppendRows(ctx, n) })
}

func (s *CircuitBreakerSheet) WriteRow(ctx context.Context, row int, values []string) error {
	return s.run(ctx, func() error { return s.sheet.WriteRow(ctx, row, values) })
}

func (s *CircuitBreakerSheet) WriteCell(ctx context.Context, row, col int, value string) error {
	return s.run(ctx, func() error { return s.sheet.WriteCell(ctx, row, col, value) })
}

func (s *CircuitBreakerSheet) SetRowBackground(ctx context.Context, row int, color Color) error {
	return s.run(ctx, func() error { return s.sheet.SetRowBackground(ctx, row, color) })
}

func (s *CircuitBreakerSheet) State() string {
	return s.cb.State().String()
}

func (s *CircuitBreakerSheet) run(ctx context.Context, fn func() error) error {
	err := s.cb.Run(ctx, fn)
	if err != nil && s.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for %s: %w", s.name, err)
	}
	return err
}
