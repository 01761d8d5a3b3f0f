package domain

import (
	"time"
)

// RunStatus is the overall state of a market-creation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// MarketCreationRun is the journal entry of one orchestration attempt. A
// failed run with completed steps has left partial state on chain.
type MarketCreationRun struct {
	ID         string     `json:"id"`
	DraftName  string     `json:"draft_name"`
	Ticker     string     `json:"ticker"`
	Creator    string     `json:"creator"`
	Status     RunStatus  `json:"status"`
	Market     MarketRef  `json:"market"`
	Steps      []Step     `json:"steps"`
	FailedStep StepKey    `json:"failed_step,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Partial reports whether the run failed after at least one step committed.
func (r MarketCreationRun) Partial() bool {
	if r.Status != RunStatusFailed {
		return false
	}
	for _, s := range r.Steps {
		if s.Status == TxStatusSuccess {
			return true
		}
	}
	return false
}
