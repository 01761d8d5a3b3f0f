package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// RunArchiver writes finished runs to cold storage and returns the object path.
type RunArchiver interface {
	ArchiveRun(ctx context.Context, run MarketCreationRun, receipts map[StepKey]*ReceiptSummary) (string, error)
}

// ReceiptSummary is the archived subset of a mined receipt.
type ReceiptSummary struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      uint64 `json:"status"`
	LogCount    int    `json:"log_count"`
}
