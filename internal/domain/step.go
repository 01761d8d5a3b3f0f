package domain

import "github.com/ethereum/go-ethereum/common"

// StepKey names a stage of the market-creation pipeline.
type StepKey string

const (
	StepCloneMM         StepKey = "cloneMM"
	StepCreateMarket    StepKey = "createMarket"
	StepCreatePositions StepKey = "createPositions"
	StepInitLMSR        StepKey = "initLmsr"
	StepSetPricingMM    StepKey = "setPricingMM"
	StepLockPositions   StepKey = "lockPositions"
)

// Step is the published progress of one pipeline stage.
type Step struct {
	Key    StepKey      `json:"key"`
	Title  string       `json:"title"`
	Status TxStatus     `json:"status"`
	TxHash *common.Hash `json:"tx_hash,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// CloneSteps returns a deep copy so callers never share the pipeline's slice.
func CloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s
		if s.TxHash != nil {
			h := *s.TxHash
			out[i].TxHash = &h
		}
	}
	return out
}
