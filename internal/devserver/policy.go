package devserver

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Policy decides what happens to a structured email action: sent directly,
// held for user confirmation, or denied.
type Policy struct {
	query rego.PreparedEvalQuery
}

// Policy decisions.
const (
	DecisionAllow   = "allow"
	DecisionConfirm = "require_confirmation"
	DecisionDeny    = "deny"
)

// NewPolicy prepares the rego query for the given policy content.
func NewPolicy(ctx context.Context, policyContent string) (*Policy, error) {
	r := rego.New(
		rego.Query("data.email_policy.decision"),
		rego.Module("email_policy.rego", policyContent),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Policy{query: query}, nil
}

// Evaluate returns the decision for the given input. Input keys: recipient,
// subject, user_id.
func (p *Policy) Evaluate(ctx context.Context, input map[string]any) (string, error) {
	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionConfirm, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionConfirm, nil
}

// DefaultPolicy holds every outgoing email for confirmation except mail to
// the team's own domain, and denies mail with no recipient.
const DefaultPolicy = `
package email_policy

default decision = "require_confirmation"

decision = "allow" {
	endswith(input.recipient, "@confscout.dev")
}

decision = "deny" {
	input.recipient == ""
}
`
