package config

import (
	"fmt"
	"strings"

	"leadpipe/pkg/cel"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateQueue(c.Queue) },
		func(c *Config) error { return validateWorker(c.Worker) },
		func(c *Config) error { return validateWarehouse(c.Warehouse) },
		func(c *Config) error { return validateRateLimit(c.RateLimit) },
		func(c *Config) error { return validateSpreadsheet(c.Spreadsheet) },
		func(c *Config) error { return validateInterests(c.Interests) },
	}

	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

// validateSpreadsheet requires the alert rule, or the preset it names, to
// compile to a boolean.
func validateSpreadsheet(cfg SpreadsheetConfig) error {
	if cfg.AlertRule == "" {
		return nil
	}
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return err
	}
	if err := evaluator.ValidateRuleExpression(cel.ResolveRule(cfg.AlertRule)); err != nil {
		return &ValidationError{Field: "spreadsheet.alert_rule", Message: err.Error()}
	}
	return nil
}

func validateQueue(cfg QueueConfig) error {
	required := map[string]string{
		"queue.leads":     cfg.Leads,
		"queue.warehouse": cfg.Warehouse,
	}
	for field, dsn := range required {
		if dsn == "" {
			return &ValidationError{Field: field, Message: "queue DSN is required"}
		}
		if err := validateQueueDSN(field, dsn); err != nil {
			return err
		}
	}

	optional := map[string]string{
		"queue.leads_dead_letter":     cfg.LeadsDeadLetter,
		"queue.warehouse_dead_letter": cfg.WarehouseDeadLetter,
	}
	for field, dsn := range optional {
		if dsn == "" {
			continue
		}
		if err := validateQueueDSN(field, dsn); err != nil {
			return err
		}
	}

	if cfg.Leads == cfg.Warehouse {
		return &ValidationError{
			Field:   "queue.warehouse",
			Message: "lead and warehouse queues must not share storage",
		}
	}

	return nil
}

func validateQueueDSN(field, dsn string) error {
	scheme, _, found := strings.Cut(dsn, "://")
	if !found {
		return nil
	}
	switch scheme {
	case "file", "memory", "redis", "rediss":
		return nil
	default:
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("unsupported queue scheme %q (supported: file, memory, redis)", scheme),
		}
	}
}

func validateWorker(cfg WorkerConfig) error {
	if cfg.PollInterval <= 0 {
		return &ValidationError{
			Field:   "worker.poll_interval",
			Message: "poll interval must be positive",
		}
	}

	if cfg.InitialBackoff < 0 {
		return &ValidationError{
			Field:   "worker.initial_backoff",
			Message: "initial_backoff must be non-negative",
		}
	}

	if cfg.MaxBackoff > 0 && cfg.InitialBackoff > 0 && cfg.MaxBackoff < cfg.InitialBackoff {
		return &ValidationError{
			Field:   "worker.max_backoff",
			Message: "max_backoff must be greater than or equal to initial_backoff",
		}
	}

	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "worker.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	return nil
}

func validateWarehouse(cfg WarehouseConfig) error {
	if !cfg.Configured() {
		return nil
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "warehouse.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "warehouse.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	if cfg.MaxOpenConns < 1 {
		return &ValidationError{
			Field:   "warehouse.max_open_conns",
			Message: "max_open_conns must be at least 1",
		}
	}

	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		return &ValidationError{
			Field:   "warehouse.max_idle_conns",
			Message: "max_idle_conns must not exceed max_open_conns",
		}
	}

	return nil
}

func validateRateLimit(cfg RateLimitConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.RPS <= 0 {
		return &ValidationError{
			Field:   "ratelimit.rps",
			Message: "rps must be positive",
		}
	}

	if cfg.Burst < 1 {
		return &ValidationError{
			Field:   "ratelimit.burst",
			Message: "burst must be at least 1",
		}
	}

	return nil
}

func validateInterests(interests []InterestConfig) error {
	for i, interest := range interests {
		if interest.Agent == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("interests[%d].agent", i),
				Message: "agent name is required",
			}
		}
		for _, dept := range interest.Departments {
			if len(dept) != 2 {
				return &ValidationError{
					Field:   fmt.Sprintf("interests[%d].departments", i),
					Message: fmt.Sprintf("department code must have two characters, got %q", dept),
				}
			}
		}
	}
	return nil
}
