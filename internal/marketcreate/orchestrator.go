// Package marketcreate drives the on-chain pipeline that turns a market
// draft into a tradable market: clone an unbound pricing engine, create the
// market and its positions, bind and seed the engine, make it the market's
// pricing source and optionally lock the position set.
package marketcreate

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/ledgertx"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

// Chain is the chain access the orchestrator needs.
type Chain interface {
	From() common.Address
	Send(ctx context.Context, call protocol.Call) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// StepObserver receives a snapshot of every step after each mutation.
type StepObserver func(steps []domain.Step)

// Outcome is the result of a run that passed validation. On failure
// FailedStep names the step that halted the pipeline; earlier steps stay
// committed on chain.
type Outcome struct {
	Market     domain.MarketRef
	Steps      []domain.Step
	Receipts   map[domain.StepKey]*types.Receipt
	FailedStep domain.StepKey
}

// Succeeded reports whether every step completed.
func (o *Outcome) Succeeded() bool { return o != nil && o.FailedStep == "" }

// Orchestrator runs the creation pipeline. One run at a time.
type Orchestrator struct {
	chain     Chain
	proto     *protocol.Config
	validator *Validator
	stages    []stage
	observers []StepObserver
	txOpts    []ledgertx.Option
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	steps   []domain.Step
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStepObserver registers a step snapshot observer.
func WithStepObserver(fn StepObserver) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// WithControllerOptions applies opts to the controller created for each
// stage.
func WithControllerOptions(opts ...ledgertx.Option) Option {
	return func(o *Orchestrator) { o.txOpts = append(o.txOpts, opts...) }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator. The lock stage is included when
// proto.LockPositions is set.
func New(chain Chain, proto *protocol.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chain:     chain,
		proto:     proto,
		validator: NewValidator(proto),
		stages:    pipeline(proto.LockPositions),
		txOpts:    []ledgertx.Option{ledgertx.WithResetDelay(0)},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(slog.String("component", "marketcreate"))
	o.steps = o.freshSteps()
	return o
}

func (o *Orchestrator) freshSteps() []domain.Step {
	steps := make([]domain.Step, len(o.stages))
	for i, s := range o.stages {
		steps[i] = domain.Step{Key: s.key, Title: s.title, Status: domain.TxStatusIdle}
	}
	return steps
}

// Steps returns a snapshot of the current step list.
func (o *Orchestrator) Steps() []domain.Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	return domain.CloneSteps(o.steps)
}

// Running reports whether a run is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Validate checks d without sending anything.
func (o *Orchestrator) Validate(d domain.MarketDraft) error {
	return o.validator.Validate(d)
}

// CanCreate reports whether Run would start for d.
func (o *Orchestrator) CanCreate(d domain.MarketDraft) bool {
	return o.chain != nil && !o.Running() && o.Validate(d) == nil
}

// Run validates d and executes the pipeline. Validation failures and a
// concurrent run return an error and a nil Outcome without touching the
// chain. Once sending starts the Outcome is always returned, together with
// the halting error when a step fails.
func (o *Orchestrator) Run(ctx context.Context, d domain.MarketDraft) (*Outcome, error) {
	if o.chain == nil {
		return nil, &domain.PreconditionError{Message: ledgertx.MsgRPCNotReady}
	}
	if err := o.Validate(d); err != nil {
		return nil, err
	}
	r, err := o.prepare(d)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, domain.ErrRunInProgress
	}
	o.running = true
	o.steps = o.freshSteps()
	o.mu.Unlock()
	o.publish()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	out := &Outcome{Receipts: make(map[domain.StepKey]*types.Receipt)}
	logger := o.logger.With(slog.String("market", r.draft.Name), slog.String("ticker", r.draft.Ticker))
	logger.Info("market creation started", slog.Int("steps", len(o.stages)))

	for i, st := range o.stages {
		if err := o.runStage(ctx, i, st, r, out); err != nil {
			out.FailedStep = st.key
			out.Market = r.ref()
			out.Steps = o.Steps()
			logger.Error("market creation halted",
				slog.String("step", string(st.key)),
				slog.String("error", err.Error()),
			)
			return out, fmt.Errorf("marketcreate: %s: %w", st.key, err)
		}
	}

	out.Market = r.ref()
	out.Steps = o.Steps()
	logger.Info("market created",
		slog.String("market_id", r.marketID.String()),
		slog.String("mm", r.mm.Hex()),
	)
	return out, nil
}

func (o *Orchestrator) prepare(d domain.MarketDraft) (*run, error) {
	r := &run{draft: d, creator: o.chain.From(), oracle: d.OracleAddress}
	if r.oracle == (common.Address{}) {
		r.oracle = o.proto.Oracle
	}
	r.weights = make([]*big.Int, len(d.Positions))
	for i, p := range d.Positions {
		w := p.Weight
		if w == "" {
			w = o.proto.DefaultWeight
		}
		v, err := protocol.ParsePositiveInt(w)
		if err != nil {
			return nil, &DraftError{Problems: []string{fmt.Sprintf("positions[%d].weight: %v", i, err)}}
		}
		r.weights[i] = v
	}
	liability := d.Liability
	if liability == "" {
		liability = o.proto.DefaultLiability
	}
	v, err := protocol.ParseUnits(liability, o.proto.CollateralDecimals)
	if err != nil {
		return nil, &DraftError{Problems: []string{"liability: " + err.Error()}}
	}
	r.liability = v
	return r, nil
}

func (o *Orchestrator) runStage(ctx context.Context, i int, st stage, r *run, out *Outcome) error {
	o.mark(i, func(s *domain.Step) {
		s.Status = domain.TxStatusPending
		s.Error = ""
		s.TxHash = nil
	})

	if err := st.missing(r); err != nil {
		o.markError(i, err, nil)
		return err
	}
	call, err := st.build(ctx, o, r)
	if err != nil {
		o.markError(i, err, nil)
		return err
	}

	ctrl := ledgertx.New(o.chain, o.txOpts...)
	res, err := ctrl.RunTx(ctx, func(ctx context.Context) (common.Hash, error) {
		return o.chain.Send(ctx, call)
	}, ledgertx.WithLabel(string(st.key)))
	if err != nil {
		o.markError(i, err, ctrl.State().TxHash)
		return err
	}
	out.Receipts[st.key] = res.Receipt

	hash := res.TxHash
	o.mark(i, func(s *domain.Step) {
		s.Status = domain.TxStatusSuccess
		s.TxHash = &hash
	})

	if st.extract != nil {
		if err := st.extract(o, r, res); err != nil {
			o.markError(i, err, &hash)
			return err
		}
	}
	return nil
}

func (o *Orchestrator) markError(i int, err error, hash *common.Hash) {
	o.mark(i, func(s *domain.Step) {
		s.Status = domain.TxStatusError
		s.Error = ledgertx.Describe(err)
		if hash != nil {
			h := *hash
			s.TxHash = &h
		}
	})
}

func (o *Orchestrator) mark(i int, patch func(*domain.Step)) {
	o.mu.Lock()
	patch(&o.steps[i])
	o.mu.Unlock()
	o.publish()
}

func (o *Orchestrator) publish() {
	if len(o.observers) == 0 {
		return
	}
	snap := o.Steps()
	for _, fn := range o.observers {
		fn(snap)
	}
}
