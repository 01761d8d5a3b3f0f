package domain

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidDraft  = errors.New("invalid market draft")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrRunInProgress = errors.New("market creation already in progress")
	ErrSigningFailed = errors.New("signing failed")
)

// Describer is implemented by errors that carry a user-facing message.
type Describer interface {
	Describe() string
}

// PreconditionError reports a failure detected before any chain interaction
// was attempted: missing wallet, RPC client not ready, bad input.
type PreconditionError struct {
	Message string
	Err     error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *PreconditionError) Unwrap() error    { return e.Err }
func (e *PreconditionError) Describe() string { return e.Message }

// SubmissionError reports a request the wallet or RPC node refused outright.
// ProviderCode is the JSON-RPC error code when the node supplied one.
type SubmissionError struct {
	ProviderCode int
	Message      string
	Err          error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return "submission rejected: " + e.Message + ": " + e.Err.Error()
	}
	return "submission rejected: " + e.Message
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Describe returns the provider message. Gas-cap refusals get an explicit
// note so they are not mistaken for contract reverts.
func (e *SubmissionError) Describe() string {
	msg := e.Message
	if msg == "" {
		msg = "Transaction rejected"
	}
	return WithGasLimitNote(msg)
}

// ExecutionRevertedError reports a transaction that was mined but reverted,
// or a call the node simulated to a revert.
type ExecutionRevertedError struct {
	Reason string
	TxHash common.Hash
	Err    error
}

func (e *ExecutionRevertedError) Error() string {
	if e.Reason != "" {
		return "execution reverted: " + e.Reason
	}
	return "execution reverted"
}

func (e *ExecutionRevertedError) Unwrap() error { return e.Err }

func (e *ExecutionRevertedError) Describe() string {
	if e.Reason != "" {
		return "Execution reverted: " + e.Reason
	}
	return "Transaction reverted"
}

// ProtocolExpectationError reports a successful transaction whose receipt
// lacked an event the caller depends on.
type ProtocolExpectationError struct {
	ExpectedEvent string
}

func (e *ProtocolExpectationError) Error() string    { return e.Describe() }
func (e *ProtocolExpectationError) Describe() string { return e.ExpectedEvent + " not found in logs" }

var gasLimitPattern = regexp.MustCompile(`exceeds block gas limit|gas limit (is )?too high|exceeds the configured cap|gas required exceeds allowance|gas limit reached|exceeds max transaction gas limit`)

const gasLimitNote = " (the RPC node refused the request because the gas limit exceeds its cap; the contract did not revert)"

// WithGasLimitNote appends a diagnostic to msg when it is a gas cap refusal.
func WithGasLimitNote(msg string) string {
	if IsGasLimitRejection(msg) && !strings.HasSuffix(msg, gasLimitNote) {
		return msg + gasLimitNote
	}
	return msg
}

// IsGasLimitRejection reports whether msg matches a provider-level gas cap
// refusal rather than an execution failure.
func IsGasLimitRejection(msg string) bool {
	return gasLimitPattern.MatchString(strings.ToLower(msg))
}
