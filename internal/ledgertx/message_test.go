package ledgertx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

type metaErr struct{ msgs []string }

func (e metaErr) Error() string          { return "wrapped provider error" }
func (e metaErr) MetaMessages() []string { return e.msgs }

type reasonErr struct{ reason string }

func (e reasonErr) Error() string  { return "call exception" }
func (e reasonErr) Reason() string { return e.reason }

type emptyErr struct{}

func (emptyErr) Error() string { return "  " }

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"typed precondition", &domain.PreconditionError{Message: "Wallet not connected."}, "Wallet not connected."},
		{"typed revert without reason", &domain.ExecutionRevertedError{}, "Transaction reverted"},
		{"missing event", &domain.ProtocolExpectationError{ExpectedEvent: "MarketCreated"}, "MarketCreated not found in logs"},
		{"nested meta messages", fmt.Errorf("send: %w", metaErr{msgs: []string{"Request Arguments:", "gas limit too high"}}),
			"Request Arguments: gas limit too high (the RPC node refused the request because the gas limit exceeds its cap; the contract did not revert)"},
		{"nested reason", fmt.Errorf("call: %w", reasonErr{reason: "Insufficient balance"}), "Insufficient balance"},
		{"plain", errors.New("nonce too low"), "nonce too low"},
		{"blank", emptyErr{}, MsgFallback},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Describe(tc.err))
		})
	}
}
