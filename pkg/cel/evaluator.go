package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// LeadVariable is the name under which a lead is exposed to expressions.
const LeadVariable = "lead"

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(LeadVariable, cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateRuleExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// Rule is a compiled boolean expression over a lead.
type Rule struct {
	expression string
	program    cel.Program
}

// CompileRule compiles a boolean expression once so it can be evaluated for
// every delivery without reparsing.
func (e *Evaluator) CompileRule(expression string) (*Rule, error) {
	if err := e.ValidateRuleExpression(expression); err != nil {
		return nil, err
	}

	program, err := e.CompileExpression(expression)
	if err != nil {
		return nil, err
	}

	return &Rule{expression: expression, program: program}, nil
}

func (r *Rule) String() string {
	return r.expression
}

func (r *Rule) Evaluate(ctx context.Context, lead map[string]interface{}) (bool, error) {
	result, _, err := r.program.ContextEval(ctx, map[string]interface{}{
		LeadVariable: lead,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func (e *Evaluator) CompileExpression(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}
