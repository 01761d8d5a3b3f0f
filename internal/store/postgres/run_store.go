package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// RunStore implements domain.RunStore on market_creation_runs. Steps and
// position ids are JSONB; market ids are NUMERIC(78,0) so any uint256 fits.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runColumns = `id, draft_name, ticker, creator, status, market_id::text, market_maker,
	position_ids, steps, failed_step, error, started_at, finished_at`

// Create inserts a new run.
func (s *RunStore) Create(ctx context.Context, run domain.MarketCreationRun) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("postgres: marshal steps: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO market_creation_runs (id, draft_name, ticker, creator, status, steps, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.DraftName, run.Ticker, run.Creator, string(run.Status), steps, run.StartedAt)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateSteps replaces the step list of a running run.
func (s *RunStore) UpdateSteps(ctx context.Context, runID string, steps []domain.Step) error {
	raw, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("postgres: marshal steps: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE market_creation_runs SET steps = $2 WHERE id = $1`, runID, raw)
	if err != nil {
		return fmt.Errorf("postgres: update steps %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update steps %s: %w", runID, domain.ErrNotFound)
	}
	return nil
}

// Finish records the final state of a run.
func (s *RunStore) Finish(ctx context.Context, run domain.MarketCreationRun) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("postgres: marshal steps: %w", err)
	}
	positions, err := json.Marshal(bigStrings(run.Market.PositionIDs))
	if err != nil {
		return fmt.Errorf("postgres: marshal position ids: %w", err)
	}
	var marketID, mm, failed, msg *string
	if run.Market.MarketID != nil {
		v := run.Market.MarketID.String()
		marketID = &v
	}
	if run.Market.MarketMaker != (common.Address{}) {
		v := run.Market.MarketMaker.Hex()
		mm = &v
	}
	if run.FailedStep != "" {
		v := string(run.FailedStep)
		failed = &v
	}
	if run.Error != "" {
		msg = &run.Error
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE market_creation_runs
		SET status = $2, market_id = $3::text::numeric, market_maker = $4, position_ids = $5,
		    steps = $6, failed_step = $7, error = $8, finished_at = $9
		WHERE id = $1`,
		run.ID, string(run.Status), marketID, mm, positions, steps, failed, msg, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a run or domain.ErrNotFound.
func (s *RunStore) GetByID(ctx context.Context, id string) (domain.MarketCreationRun, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM market_creation_runs WHERE id = $1`, id)
	if err != nil {
		return domain.MarketCreationRun{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	run, err := pgx.CollectExactlyOneRow(rows, scanRun)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketCreationRun{}, domain.ErrNotFound
		}
		return domain.MarketCreationRun{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return run, nil
}

// List returns runs, newest first.
func (s *RunStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketCreationRun, error) {
	q, args := listQuery(`SELECT `+runColumns+` FROM market_creation_runs`, "started_at", opts)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.CollectableRow) (domain.MarketCreationRun, error) {
	var (
		r                         domain.MarketCreationRun
		status                    string
		marketID, mm, failed, msg *string
		positions, steps          []byte
	)
	err := row.Scan(&r.ID, &r.DraftName, &r.Ticker, &r.Creator, &status, &marketID, &mm,
		&positions, &steps, &failed, &msg, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return r, err
	}
	r.Status = domain.RunStatus(status)
	if marketID != nil {
		id, ok := new(big.Int).SetString(*marketID, 10)
		if !ok {
			return r, fmt.Errorf("bad market id %q", *marketID)
		}
		r.Market.MarketID = id
	}
	if mm != nil {
		r.Market.MarketMaker = common.HexToAddress(*mm)
	}
	if failed != nil {
		r.FailedStep = domain.StepKey(*failed)
	}
	if msg != nil {
		r.Error = *msg
	}
	if err := json.Unmarshal(steps, &r.Steps); err != nil {
		return r, fmt.Errorf("unmarshal steps: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(positions, &ids); err != nil {
		return r, fmt.Errorf("unmarshal position ids: %w", err)
	}
	for _, s := range ids {
		id, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return r, fmt.Errorf("bad position id %q", s)
		}
		r.Market.PositionIDs = append(r.Market.PositionIDs, id)
	}
	return r, nil
}

func bigStrings(vs []*big.Int) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.String())
	}
	return out
}

var _ domain.RunStore = (*RunStore)(nil)
