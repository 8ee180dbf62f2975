// Package admission applies the operator's CEL rule to authenticated events before they
// are queued.
package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	celgo "github.com/google/cel-go/cel"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/logger"
	"intake/pkg/cel"
	"intake/pkg/metrics"
	"intake/pkg/models"
	"intake/pkg/tracing"
)

type Evaluator struct {
	evaluator  *cel.Evaluator
	program    celgo.Program
	expression string
	denyOnErr  bool
	logger     logger.Logger
}

// NewEvaluator compiles cfg.Expression once. It returns nil, nil when no rule is set.
func NewEvaluator(cfg config.AdmissionConfig, log logger.Logger) (*Evaluator, error) {
	expr := strings.TrimSpace(cfg.Expression)
	if expr == "" {
		return nil, nil
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	program, err := evaluator.CompileFilter(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile admission rule: %w", err)
	}

	return &Evaluator{
		evaluator:  evaluator,
		program:    program,
		expression: expr,
		denyOnErr:  strings.EqualFold(cfg.OnError, constants.FallbackDeny),
		logger:     log,
	}, nil
}

// Admit reports whether event satisfies the rule. Evaluation errors follow the
// configured fallback and are never returned to the caller.
func (e *Evaluator) Admit(ctx context.Context, event models.InboundEvent) (bool, error) {
	ctx, span := tracing.GetTracer(constants.ServiceName).Start(ctx, "admission.admit")
	defer span.End()

	start := time.Now()
	admitted, err := e.evaluator.EvaluateFilter(ctx, e.program, cel.EventFields{
		EventID:    event.EventID,
		EventType:  event.EventType,
		SubjectRef: event.SubjectRef,
		PeerID:     event.PeerID,
		OccurredAt: event.OccurredAt,
		Details:    event.Details,
	})
	if err != nil {
		span.RecordError(err)
		return e.handleEvaluationError(ctx, event, err), nil
	}

	result := "admitted"
	if !admitted {
		result = "rejected"
	}
	metrics.ObserveAdmission(result, time.Since(start))
	return admitted, nil
}

func (e *Evaluator) handleEvaluationError(ctx context.Context, event models.InboundEvent, err error) bool {
	metrics.ObserveAdmission("error", 0)

	if e.denyOnErr {
		metrics.IncFallback("admission", "deny_on_error", "evaluation_error")
		e.logger.WarnwCtx(ctx, "Admission rule evaluation error, rejecting event (fallback: deny)",
			"event_type", event.EventType,
			"error", err,
		)
		return false
	}

	metrics.IncFallback("admission", "allow_on_error", "evaluation_error")
	e.logger.WarnwCtx(ctx, "Admission rule evaluation error, admitting event (fallback: allow)",
		"event_type", event.EventType,
		"error", err,
	)
	return true
}

func (e *Evaluator) Expression() string {
	return e.expression
}
