package sms

import (
	"context"
	"fmt"

	"leadpipe/internal/config"
	"leadpipe/pkg/circuitbreaker"
)

type CircuitBreakerSender struct {
	sender Sender
	cb     *circuitbreaker.Wrapper
	name   string
}

func NewCircuitBreakerSender(sender Sender, name string, cfg circuitbreaker.Config) *CircuitBreakerSender {
	return &CircuitBreakerSender{
		sender: sender,
		cb:     circuitbreaker.NewWrapper(cfg),
		name:   name,
	}
}

// WrapWithCircuitBreaker returns s unchanged when breakers are disabled.
func WrapWithCircuitBreaker(s Sender, name string, cfg config.CircuitBreakerConfig) Sender {
	if !cfg.Enabled {
		return s
	}
	cbConfig := circuitbreaker.FromConfig(name, cfg)
	return NewCircuitBreakerSender(s, name, cbConfig)
}

func (s *CircuitBreakerSender) Send(ctx context.Context, msg Message) error {
	err := s.cb.Run(ctx, func() error {
		return s.sender.Send(ctx, msg)
	})
	if err != nil && s.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for %s: %w", s.name, err)
	}
	return err
}

func (s *CircuitBreakerSender) State() string {
	return s.cb.State().String()
}
