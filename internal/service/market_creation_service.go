package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/marketcreate"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

// DefaultRunLockTTL bounds how long a draft stays locked if the desk dies
// mid-run.
const DefaultRunLockTTL = 15 * time.Minute

// recentRuns is how many finished runs stay readable without a journal.
const recentRuns = 64

// Notification event types.
const (
	EventMarketCreated = "market_created"
	EventMarketFailed  = "market_failed"
)

var draftNamespace = uuid.MustParse("6f1c2a0e-5d4b-4c83-9a7e-3b2f8d91e604")

// MarketCreationService runs the creation pipeline on behalf of API and CLI
// callers. It keeps one run per draft across desks through the lock
// manager, journals every run and streams step snapshots on the bus. All of
// the infrastructure dependencies are optional.
type MarketCreationService struct {
	chain    marketcreate.Chain
	proto    *protocol.Config
	hooks    *TxHooks
	locks    domain.LockManager
	bus      domain.SignalBus
	runs     domain.RunStore
	audit    domain.AuditStore
	archiver domain.RunArchiver
	notifier Notifier
	lockTTL  time.Duration
	onFinish []func(domain.MarketCreationRun)
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*domain.MarketCreationRun
	recent []domain.MarketCreationRun
	held   map[string]bool
	wg     sync.WaitGroup
}

// CreationOption configures a MarketCreationService.
type CreationOption func(*MarketCreationService)

// WithRunLockTTL overrides DefaultRunLockTTL.
func WithRunLockTTL(d time.Duration) CreationOption {
	return func(s *MarketCreationService) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// WithRunFinished registers fn to receive every finished run.
func WithRunFinished(fn func(domain.MarketCreationRun)) CreationOption {
	return func(s *MarketCreationService) { s.onFinish = append(s.onFinish, fn) }
}

// NewMarketCreationService creates a MarketCreationService.
func NewMarketCreationService(
	chain marketcreate.Chain,
	proto *protocol.Config,
	hooks *TxHooks,
	locks domain.LockManager,
	bus domain.SignalBus,
	runs domain.RunStore,
	audit domain.AuditStore,
	archiver domain.RunArchiver,
	notifier Notifier,
	logger *slog.Logger,
	opts ...CreationOption,
) *MarketCreationService {
	s := &MarketCreationService{
		chain:    chain,
		proto:    proto,
		hooks:    hooks,
		locks:    locks,
		bus:      bus,
		runs:     runs,
		audit:    audit,
		archiver: archiver,
		notifier: notifier,
		lockTTL:  DefaultRunLockTTL,
		now:      time.Now,
		logger:   logger,
		active:   make(map[string]*domain.MarketCreationRun),
		held:     make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate normalizes d and checks it without touching the chain.
func (s *MarketCreationService) Validate(d domain.MarketDraft) (domain.MarketDraft, error) {
	d = marketcreate.Normalize(d, s.proto.TickerMaxLen)
	if err := marketcreate.NewValidator(s.proto).Validate(d); err != nil {
		return d, err
	}
	return d, nil
}

// Fingerprint identifies a draft for run locking. Drafts with the same
// normalized name and ticker share a fingerprint.
func Fingerprint(d domain.MarketDraft) string {
	key := strings.ToLower(strings.TrimSpace(d.Name)) + "\x00" + d.Ticker
	return uuid.NewSHA1(draftNamespace, []byte(key)).String()
}

type pendingRun struct {
	run    *domain.MarketCreationRun
	draft  domain.MarketDraft
	unlock func()
}

// Start begins a run in the background and returns its id. The run keeps
// going after ctx is cancelled.
func (s *MarketCreationService) Start(ctx context.Context, d domain.MarketDraft) (string, error) {
	p, err := s.begin(ctx, d)
	if err != nil {
		return "", err
	}
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.execute(runCtx, p)
	}()
	return p.run.ID, nil
}

// Create runs the pipeline synchronously. The returned run is populated
// even when err is non-nil, as long as sending started.
func (s *MarketCreationService) Create(ctx context.Context, d domain.MarketDraft) (domain.MarketCreationRun, error) {
	p, err := s.begin(ctx, d)
	if err != nil {
		return domain.MarketCreationRun{}, err
	}
	return s.execute(ctx, p)
}

// Wait blocks until every background run has finished.
func (s *MarketCreationService) Wait() { s.wg.Wait() }

func (s *MarketCreationService) begin(ctx context.Context, d domain.MarketDraft) (*pendingRun, error) {
	if s.chain == nil {
		return nil, &domain.PreconditionError{Message: "RPC client not ready."}
	}
	d, err := s.Validate(d)
	if err != nil {
		return nil, err
	}

	fp := Fingerprint(d)
	unlock, err := s.acquire(ctx, fp)
	if err != nil {
		return nil, err
	}

	run := &domain.MarketCreationRun{
		ID:        uuid.NewString(),
		DraftName: d.Name,
		Ticker:    d.Ticker,
		Creator:   s.chain.From().Hex(),
		Status:    domain.RunStatusRunning,
		Steps:     marketcreate.New(s.chain, s.proto).Steps(),
		StartedAt: s.now().UTC(),
	}
	if s.runs != nil {
		if err := s.runs.Create(ctx, *run); err != nil {
			unlock()
			return nil, fmt.Errorf("market_creation: journal run: %w", err)
		}
	}

	s.mu.Lock()
	s.active[run.ID] = run
	s.mu.Unlock()
	return &pendingRun{run: run, draft: d, unlock: unlock}, nil
}

// acquire takes the in-process guard for fp and, when configured, the
// distributed lock.
func (s *MarketCreationService) acquire(ctx context.Context, fp string) (func(), error) {
	s.mu.Lock()
	if s.held[fp] {
		s.mu.Unlock()
		return nil, domain.ErrRunInProgress
	}
	s.held[fp] = true
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.held, fp)
		s.mu.Unlock()
	}
	if s.locks == nil {
		return release, nil
	}
	unlock, err := s.locks.Acquire(ctx, "market:"+fp, s.lockTTL)
	if err != nil {
		release()
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, domain.ErrRunInProgress
		}
		return nil, fmt.Errorf("market_creation: acquire lock: %w", err)
	}
	return func() {
		unlock()
		release()
	}, nil
}

func (s *MarketCreationService) execute(ctx context.Context, p *pendingRun) (domain.MarketCreationRun, error) {
	defer p.unlock()
	run := p.run
	logger := s.logger.With(slog.String("run_id", run.ID))

	orch := marketcreate.New(s.chain, s.proto,
		marketcreate.WithLogger(s.logger),
		marketcreate.WithControllerOptions(s.hooks.Options("create:"+run.ID)...),
		marketcreate.WithStepObserver(func(steps []domain.Step) {
			s.mu.Lock()
			run.Steps = steps
			s.mu.Unlock()
			s.publishSteps(ctx, run.ID, steps)
		}),
	)

	out, runErr := orch.Run(ctx, p.draft)

	s.mu.Lock()
	finished := s.now().UTC()
	run.FinishedAt = &finished
	if out != nil {
		run.Market = out.Market
		run.Steps = out.Steps
		run.FailedStep = out.FailedStep
	}
	if runErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = describeRunError(runErr)
	} else {
		run.Status = domain.RunStatusSucceeded
	}
	final := *run
	final.Steps = domain.CloneSteps(run.Steps)
	delete(s.active, run.ID)
	s.recent = append(s.recent, final)
	if len(s.recent) > recentRuns {
		s.recent = s.recent[len(s.recent)-recentRuns:]
	}
	s.mu.Unlock()

	if s.runs != nil {
		if err := s.runs.Finish(ctx, final); err != nil {
			logger.WarnContext(ctx, "market_creation: journal finish failed", slog.String("error", err.Error()))
		}
	}
	s.record(ctx, final)
	for _, fn := range s.onFinish {
		fn(final)
	}

	var receipts map[domain.StepKey]*types.Receipt
	if out != nil {
		receipts = out.Receipts
	}
	s.archive(ctx, final, receipts)
	s.announce(ctx, final)

	if runErr != nil {
		logger.WarnContext(ctx, "market_creation: run failed",
			slog.String("failed_step", string(final.FailedStep)),
			slog.Bool("partial", final.Partial()),
			slog.String("error", runErr.Error()),
		)
		return final, runErr
	}
	logger.InfoContext(ctx, "market_creation: run succeeded", slog.String("market_id", marketIDString(final.Market)))
	return final, nil
}

func marketIDString(ref domain.MarketRef) string {
	if ref.MarketID == nil {
		return ""
	}
	return ref.MarketID.String()
}

func describeRunError(err error) string {
	var d domain.Describer
	if errors.As(err, &d) {
		return d.Describe()
	}
	return err.Error()
}

type stepsMessage struct {
	RunID string        `json:"run_id"`
	Steps []domain.Step `json:"steps"`
}

func (s *MarketCreationService) publishSteps(ctx context.Context, runID string, steps []domain.Step) {
	if s.bus != nil {
		payload, err := json.Marshal(stepsMessage{RunID: runID, Steps: steps})
		if err == nil {
			err = s.bus.Publish(ctx, domain.StepsChannel(runID), payload)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "market_creation: publish steps failed",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.runs != nil {
		if err := s.runs.UpdateSteps(ctx, runID, steps); err != nil {
			s.logger.WarnContext(ctx, "market_creation: journal steps failed",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *MarketCreationService) record(ctx context.Context, run domain.MarketCreationRun) {
	if s.bus != nil {
		if payload, err := json.Marshal(run); err == nil {
			if err := s.bus.StreamAppend(ctx, domain.StreamRuns, payload); err != nil {
				s.logger.WarnContext(ctx, "market_creation: stream append failed", slog.String("error", err.Error()))
			}
		}
	}
	if s.audit != nil {
		detail := map[string]any{
			"run_id":  run.ID,
			"name":    run.DraftName,
			"ticker":  run.Ticker,
			"status":  string(run.Status),
			"partial": run.Partial(),
		}
		if run.Market.MarketID != nil {
			detail["market_id"] = run.Market.MarketID.String()
		}
		if run.FailedStep != "" {
			detail["failed_step"] = string(run.FailedStep)
		}
		if err := s.audit.Log(ctx, "market_creation_"+string(run.Status), detail); err != nil {
			s.logger.WarnContext(ctx, "market_creation: audit log failed", slog.String("error", err.Error()))
		}
	}
}

// SummarizeReceipts reduces mined receipts to their archived form.
func SummarizeReceipts(receipts map[domain.StepKey]*types.Receipt) map[domain.StepKey]*domain.ReceiptSummary {
	out := make(map[domain.StepKey]*domain.ReceiptSummary, len(receipts))
	for k, r := range receipts {
		if r == nil {
			continue
		}
		sum := &domain.ReceiptSummary{
			TxHash:   r.TxHash.Hex(),
			GasUsed:  r.GasUsed,
			Status:   r.Status,
			LogCount: len(r.Logs),
		}
		if r.BlockNumber != nil {
			sum.BlockNumber = r.BlockNumber.Uint64()
		}
		out[k] = sum
	}
	return out
}

func (s *MarketCreationService) archive(ctx context.Context, run domain.MarketCreationRun, receipts map[domain.StepKey]*types.Receipt) {
	if s.archiver == nil {
		return
	}
	path, err := s.archiver.ArchiveRun(ctx, run, SummarizeReceipts(receipts))
	if err != nil {
		s.logger.WarnContext(ctx, "market_creation: archive failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "market_creation: run archived", slog.String("path", path))
}

func (s *MarketCreationService) announce(ctx context.Context, run domain.MarketCreationRun) {
	if s.notifier == nil {
		return
	}
	var event, title, msg string
	if run.Status == domain.RunStatusSucceeded {
		event = EventMarketCreated
		title = "Market created: " + run.Ticker
		msg = fmt.Sprintf("%s (%s) is live as market %s with pricing engine %s.",
			run.DraftName, run.Ticker, marketIDString(run.Market), run.Market.MarketMaker.Hex())
	} else {
		event = EventMarketFailed
		title = "Market creation failed: " + run.Ticker
		msg = fmt.Sprintf("Run %s halted at %s: %s", run.ID, run.FailedStep, run.Error)
		if run.Partial() {
			msg += fmt.Sprintf("\nEarlier steps are committed on chain (market %q, engine %s) and need operator attention.",
				marketIDString(run.Market), run.Market.MarketMaker.Hex())
		}
	}
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "market_creation: notify failed", slog.String("error", err.Error()))
	}
}

// Get returns a run by id, preferring the live copy of an active run.
func (s *MarketCreationService) Get(ctx context.Context, id string) (domain.MarketCreationRun, error) {
	s.mu.Lock()
	if r, ok := s.active[id]; ok {
		cp := *r
		cp.Steps = domain.CloneSteps(r.Steps)
		s.mu.Unlock()
		return cp, nil
	}
	for _, r := range s.recent {
		if r.ID == id {
			r.Steps = domain.CloneSteps(r.Steps)
			s.mu.Unlock()
			return r, nil
		}
	}
	s.mu.Unlock()
	if s.runs == nil {
		return domain.MarketCreationRun{}, fmt.Errorf("market_creation: run %q: %w", id, domain.ErrNotFound)
	}
	r, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return domain.MarketCreationRun{}, fmt.Errorf("market_creation: run %q: %w", id, err)
	}
	return r, nil
}

// List returns journaled runs, newest first. Without a journal it lists
// the active runs and the most recent finished ones.
func (s *MarketCreationService) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketCreationRun, error) {
	if s.runs != nil {
		runs, err := s.runs.List(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("market_creation: list runs: %w", err)
		}
		return runs, nil
	}
	s.mu.Lock()
	out := make([]domain.MarketCreationRun, 0, len(s.active)+len(s.recent))
	for _, r := range s.active {
		cp := *r
		cp.Steps = domain.CloneSteps(r.Steps)
		out = append(out, cp)
	}
	out = append(out, s.recent...)
	s.mu.Unlock()
	return pageRuns(out, opts), nil
}

// pageRuns applies opts to in-memory runs the way the journal query does:
// time window on StartedAt, newest first, then offset and limit.
func pageRuns(runs []domain.MarketCreationRun, opts domain.ListOpts) []domain.MarketCreationRun {
	kept := runs[:0]
	for _, r := range runs {
		if opts.Since != nil && r.StartedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && r.StartedAt.After(*opts.Until) {
			continue
		}
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].StartedAt.After(kept[j].StartedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(kept) {
			return []domain.MarketCreationRun{}
		}
		kept = kept[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(kept) {
		kept = kept[:opts.Limit]
	}
	return kept
}

// ActiveRuns counts runs in progress on this desk.
func (s *MarketCreationService) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
