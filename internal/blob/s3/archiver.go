package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// RunRecord is the archived form of a market-creation run.
type RunRecord struct {
	Run        domain.MarketCreationRun                  `json:"run"`
	Receipts   map[domain.StepKey]*domain.ReceiptSummary `json:"receipts"`
	ArchivedAt time.Time                                 `json:"archived_at"`
}

// Archiver implements domain.RunArchiver. Runs land under
// runs/YYYY/MM/DD/<runID>.json keyed by their start date.
type Archiver struct {
	blob domain.BlobWriter
	now  func() time.Time
}

// NewArchiver creates an Archiver writing through blob.
func NewArchiver(blob domain.BlobWriter) *Archiver {
	return &Archiver{blob: blob, now: time.Now}
}

// RunPath returns the object key of a run.
func RunPath(run domain.MarketCreationRun) string {
	return fmt.Sprintf("runs/%s/%s.json", run.StartedAt.UTC().Format("2006/01/02"), run.ID)
}

// ArchiveRun uploads run with its receipts and returns the object key.
func (a *Archiver) ArchiveRun(ctx context.Context, run domain.MarketCreationRun, receipts map[domain.StepKey]*domain.ReceiptSummary) (string, error) {
	body, err := json.MarshalIndent(RunRecord{Run: run, Receipts: receipts, ArchivedAt: a.now().UTC()}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal run %s: %w", run.ID, err)
	}
	key := RunPath(run)
	if err := a.blob.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive run %s: %w", run.ID, err)
	}
	return key, nil
}

var _ domain.RunArchiver = (*Archiver)(nil)
