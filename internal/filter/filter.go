package filter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"ally/internal/event"
	"ally/internal/logger"
	"ally/pkg/metrics"
)

type compiledRule struct {
	expression string
	program    cel.Program
}

// IgnoreFilter evaluates CEL ignore rules against envelopes before
// dispatch. A matching rule classifies the envelope as ignored, so bot
// chatter and command spam never reach a scorer.
type IgnoreFilter struct {
	rules  []compiledRule
	logger logger.Logger
}

// New compiles the rule expressions. Rules see the envelope as
// {platform, type, project_id, payload} and must return bool.
func New(expressions []string, log logger.Logger) (*IgnoreFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("platform", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("project_id", cel.StringType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	rules := make([]compiledRule, 0, len(expressions))
	for _, expr := range expressions {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile ignore rule %q: %w", expr, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("ignore rule %q must return bool, got %v", expr, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL program for %q: %w", expr, err)
		}

		rules = append(rules, compiledRule{expression: expr, program: program})
	}

	return &IgnoreFilter{rules: rules, logger: log}, nil
}

// Matches reports whether any ignore rule claims the envelope. A rule
// that fails to evaluate is skipped with a warning rather than blocking
// the entry.
func (f *IgnoreFilter) Matches(ctx context.Context, env *event.Envelope) bool {
	if len(f.rules) == 0 {
		return false
	}

	var payload map[string]interface{}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			f.logger.Warnw("ignore filter could not decode payload",
				"idempotency_key", env.IdempotencyKey,
				"error", err)
			payload = map[string]interface{}{}
		}
	}

	vars := map[string]interface{}{
		"platform":   env.Platform,
		"type":       env.Type,
		"project_id": env.ProjectID,
		"payload":    payload,
	}

	for _, rule := range f.rules {
		result, _, err := rule.program.ContextEval(ctx, vars)
		if err != nil {
			f.logger.Warnw("ignore rule evaluation failed",
				"expression", rule.expression,
				"error", err)
			continue
		}

		if matched, ok := result.Value().(bool); ok && matched {
			metrics.IgnoreRuleMatchesTotal.WithLabelValues(env.Platform).Inc()
			return true
		}
	}

	return false
}
