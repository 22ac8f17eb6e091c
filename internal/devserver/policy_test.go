package devserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyDecisions(t *testing.T) {
	policy, err := NewPolicy(context.Background(), DefaultPolicy)
	require.NoError(t, err)

	tests := []struct {
		name      string
		recipient string
		want      string
	}{
		{"own domain allowed", "alice@confscout.dev", DecisionAllow},
		{"external held for confirmation", "chair@icse.org", DecisionConfirm},
		{"missing recipient denied", "", DecisionDeny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := policy.Evaluate(context.Background(), map[string]any{
				"recipient": tt.recipient,
				"subject":   "Deadlines",
				"user_id":   "u1",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision)
		})
	}
}

func TestBrokenPolicyRejected(t *testing.T) {
	_, err := NewPolicy(context.Background(), "package email_policy\ndecision {")
	assert.Error(t, err)
}
