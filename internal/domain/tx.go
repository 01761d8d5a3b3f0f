package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxStatus is the lifecycle state of a single ledger transaction.
type TxStatus string

const (
	TxStatusIdle    TxStatus = "idle"
	TxStatusPending TxStatus = "pending"
	TxStatusSuccess TxStatus = "success"
	TxStatusError   TxStatus = "error"
)

// Terminal reports whether s ends an attempt.
func (s TxStatus) Terminal() bool {
	return s == TxStatusSuccess || s == TxStatusError
}

// TxResult is handed to the caller once a transaction has been mined.
type TxResult struct {
	TxHash  common.Hash
	Receipt *types.Receipt
}

// TxEvent is a status transition published for observers.
type TxEvent struct {
	Label        string      `json:"label"`
	From         TxStatus    `json:"from"`
	To           TxStatus    `json:"to"`
	TxHash       common.Hash `json:"tx_hash,omitempty"`
	ErrorMessage string      `json:"error,omitempty"`
}

// Resolution holds both transactions of a market resolution: the oracle
// report and the ledger settlement.
type Resolution struct {
	Oracle *TxResult
	Ledger *TxResult
}
