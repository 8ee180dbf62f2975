package cel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// EventFields is the activation an admission rule is evaluated against.
type EventFields struct {
	EventID    string
	EventType  string
	SubjectRef string
	PeerID     string
	OccurredAt time.Time
	Details    map[string]interface{}
}

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event_id", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("subject_ref", cel.StringType),
		cel.Variable("peer_id", cel.StringType),
		cel.Variable("occurred_at", cel.TimestampType),
		cel.Variable("details", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.compileBool(expression)
	return err
}

// CompileFilter compiles a boolean expression once so it can be evaluated per event.
func (e *Evaluator) CompileFilter(expression string) (cel.Program, error) {
	ast, err := e.compileBool(expression)
	if err != nil {
		return nil, err
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

func (e *Evaluator) EvaluateFilter(ctx context.Context, program cel.Program, fields EventFields) (bool, error) {
	result, _, err := program.ContextEval(ctx, e.activation(fields))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func (e *Evaluator) compileBool(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return ast, nil
}

func (e *Evaluator) activation(fields EventFields) map[string]interface{} {
	details := fields.Details
	if details == nil {
		details = map[string]interface{}{}
	}

	return map[string]interface{}{
		"event_id":    fields.EventID,
		"event_type":  fields.EventType,
		"subject_ref": fields.SubjectRef,
		"peer_id":     fields.PeerID,
		"occurred_at": fields.OccurredAt,
		"details":     details,
	}
}
