// Package policy evaluates operator-supplied rego rules against inbound messages.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

const (
	DecisionAllow  = "allow"
	DecisionIgnore = "ignore"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Decision string
	Reason   string
}

// Allowed reports whether the message may proceed.
func (d Decision) Allowed() bool {
	return d.Decision == DecisionAllow
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
// The module must define data.autoreply.decision.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.autoreply.decision"),
		rego.Module("autoreply.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine builds an engine from a policy file, or from DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate runs the policy against one inbound message.
// The rule may produce a string ("allow", "ignore") or an object
// {"decision": ..., "reason": ...}.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input.toMap()))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// Undefined decision: the policy has no default.
		return Decision{Decision: DecisionAllow, Reason: "undefined"}, nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return Decision{Decision: val}, nil
	case map[string]interface{}:
		d := Decision{Decision: DecisionAllow}
		if s, ok := val["decision"].(string); ok {
			d.Decision = s
		}
		if s, ok := val["reason"].(string); ok {
			d.Reason = s
		}
		return d, nil
	default:
		return Decision{}, fmt.Errorf("unexpected policy result type %T", val)
	}
}

// Input is the document exposed to rules as `input`.
type Input struct {
	UserID      string
	ChatID      string
	Contact     string
	ContactName string
	Content     string
	Kind        string
	IsGroup     bool
	Hour        int // local hour of receipt, 0-23
	Weekday     string
	Persona     map[string]interface{}
}

func (in Input) toMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      in.UserID,
		"chat_id":      in.ChatID,
		"contact":      in.Contact,
		"contact_name": in.ContactName,
		"content":      in.Content,
		"kind":         in.Kind,
		"is_group":     in.IsGroup,
		"hour":         in.Hour,
		"weekday":      in.Weekday,
		"persona":      in.Persona,
	}
}

// DefaultPolicy admits every message that passed the built-in filters.
const DefaultPolicy = `
package autoreply

default decision = "allow"
`
