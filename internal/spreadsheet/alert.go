package spreadsheet

import (
	"context"
	"fmt"

	"leadpipe/internal/constants"
	"leadpipe/internal/lead"
	"leadpipe/pkg/cel"
)

// AlertRule decides which leads are highlighted instead of receiving an SMS.
type AlertRule struct {
	rule *cel.Rule
}

// NewAlertRule compiles expr, which may also name a preset; an empty
// expression selects the built-in apartment-or-tenant rule.
func NewAlertRule(expr string) (*AlertRule, error) {
	if expr == "" {
		expr = constants.DefaultAlertRule
	}
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	rule, err := evaluator.CompileRule(cel.ResolveRule(expr))
	if err != nil {
		return nil, fmt.Errorf("alert rule: %w", err)
	}
	return &AlertRule{rule: rule}, nil
}

func (a *AlertRule) Matches(ctx context.Context, r lead.Record) (bool, error) {
	return a.rule.Evaluate(ctx, r.Fields())
}

func (a *AlertRule) String() string {
	return a.rule.String()
}
