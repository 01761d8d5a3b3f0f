// Package ledgertx runs one chain-mutating operation at a time with
// consistent status reporting, receipt confirmation, layered refresh and
// normalized error messages.
package ledgertx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// DefaultResetDelay is how long a terminal status stays visible before the
// controller returns to idle.
const DefaultResetDelay = 3 * time.Second

// MsgRPCNotReady is reported when no receipt waiter is wired.
const MsgRPCNotReady = "RPC client not ready."

// Producer signs and submits one transaction and returns its hash.
type Producer func(ctx context.Context) (common.Hash, error)

// AfterTxFunc refreshes state once a transaction is mined.
type AfterTxFunc func(ctx context.Context, res *domain.TxResult) error

// Observer receives every status transition in order.
type Observer func(ev domain.TxEvent)

// ReceiptWaiter blocks until a transaction is mined.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// RevertExplainer is optionally implemented by waiters that can recover the
// revert reason of a mined, failed transaction.
type RevertExplainer interface {
	ExplainRevert(ctx context.Context, receipt *types.Receipt) string
}

// State is a snapshot of a controller.
type State struct {
	Status       domain.TxStatus
	ErrorMessage string
	Err          error
	TxHash       *common.Hash
	Label        string
}

// Controller guards a single logical operation. Independent operations
// need independent controllers.
type Controller struct {
	waiter     ReceiptWaiter
	afterTx    []AfterTxFunc
	observers  []Observer
	resetDelay time.Duration
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	epoch      uint64
	resetTimer *time.Timer

	// taken before mu and held while observers run
	notifyMu sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithAfterTx registers application-scoped refresh sinks. They run after
// the per-call local refresh, in registration order.
func WithAfterTx(fns ...AfterTxFunc) Option {
	return func(c *Controller) { c.afterTx = append(c.afterTx, fns...) }
}

// WithObserver registers a transition observer. Observers may read State
// and Status; they must not start a run on the same controller.
func WithObserver(fn Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, fn) }
}

// WithResetDelay sets the terminal-to-idle delay. Zero or negative keeps
// terminal states until the next run.
func WithResetDelay(d time.Duration) Option {
	return func(c *Controller) { c.resetDelay = d }
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates an idle controller. A nil waiter is allowed; every run then
// fails with MsgRPCNotReady.
func New(waiter ReceiptWaiter, opts ...Option) *Controller {
	c := &Controller{
		waiter:     waiter,
		resetDelay: DefaultResetDelay,
		logger:     slog.Default(),
		state:      State{Status: domain.TxStatusIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "ledgertx"))
	return c
}

type runConfig struct {
	label        string
	localAfterTx AfterTxFunc
}

// RunOption configures a single RunTx call.
type RunOption func(*runConfig)

// WithLabel names the operation in logs and events.
func WithLabel(label string) RunOption {
	return func(rc *runConfig) { rc.label = label }
}

// WithLocalAfterTx sets the call-scoped refresh that runs before the
// controller's global sinks.
func WithLocalAfterTx(fn AfterTxFunc) RunOption {
	return func(rc *runConfig) { rc.localAfterTx = fn }
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.TxHash != nil {
		h := *s.TxHash
		s.TxHash = &h
	}
	return s
}

// Status returns the current status.
func (c *Controller) Status() domain.TxStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

// RunTx executes send, waits for its receipt and runs the refresh sinks.
// Exactly one transaction is submitted per call and nothing is retried. The
// returned error is also reflected in State.
func (c *Controller) RunTx(ctx context.Context, send Producer, opts ...RunOption) (*domain.TxResult, error) {
	var rc runConfig
	for _, opt := range opts {
		opt(&rc)
	}

	if c.waiter == nil {
		err := &domain.PreconditionError{Message: MsgRPCNotReady}
		if ferr := c.fail(rc.label, err); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}
	if err := c.begin(rc.label); err != nil {
		return nil, err
	}

	res, err := c.execute(ctx, send, rc)
	if err != nil {
		c.finish(rc.label, domain.TxStatusError, err, nil)
		c.logger.Warn("transaction failed",
			slog.String("label", rc.label),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	c.finish(rc.label, domain.TxStatusSuccess, nil, &res.TxHash)
	var block uint64
	if res.Receipt.BlockNumber != nil {
		block = res.Receipt.BlockNumber.Uint64()
	}
	c.logger.Info("transaction confirmed",
		slog.String("label", rc.label),
		slog.String("tx_hash", res.TxHash.Hex()),
		slog.Uint64("block", block),
	)
	return res, nil
}

func (c *Controller) execute(ctx context.Context, send Producer, rc runConfig) (*domain.TxResult, error) {
	hash, err := produce(ctx, send)
	if err != nil {
		return nil, err
	}
	c.setHash(hash)

	receipt, err := c.waiter.WaitMined(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("ledgertx: wait for %s: %w", hash.Hex(), err)
	}
	if receipt == nil {
		return nil, fmt.Errorf("ledgertx: wait for %s: %w", hash.Hex(), domain.ErrNotFound)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		reverted := &domain.ExecutionRevertedError{TxHash: hash}
		if ex, ok := c.waiter.(RevertExplainer); ok {
			reverted.Reason = ex.ExplainRevert(ctx, receipt)
		}
		return nil, reverted
	}

	res := &domain.TxResult{TxHash: hash, Receipt: receipt}
	if rc.localAfterTx != nil {
		if err := rc.localAfterTx(ctx, res); err != nil {
			return nil, fmt.Errorf("ledgertx: local refresh: %w", err)
		}
	}
	for i, fn := range c.afterTx {
		if err := fn(ctx, res); err != nil {
			return nil, fmt.Errorf("ledgertx: refresh %d: %w", i, err)
		}
	}
	return res, nil
}

func produce(ctx context.Context, send Producer) (hash common.Hash, err error) {
	if send == nil {
		return common.Hash{}, errors.New("ledgertx: nil producer")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ledgertx: producer panicked: %v", r)
		}
	}()
	return send(ctx)
}

// Fail moves an idle or terminal controller straight to error without
// sending anything. Callers use it for failures detected before a
// transaction exists, such as a refused signature.
func (c *Controller) Fail(err error) error {
	return c.fail("", err)
}

func (c *Controller) fail(label string, err error) error {
	return c.transition(func() ([]domain.TxEvent, error) {
		if c.state.Status == domain.TxStatusPending {
			return nil, &domain.PreconditionError{Message: "transaction already pending"}
		}
		var events []domain.TxEvent
		if c.state.Status.Terminal() {
			events = append(events, c.resetLocked())
		}
		return append(events, c.setLocked(label, domain.TxStatusError, err, nil)), nil
	})
}

func (c *Controller) begin(label string) error {
	return c.transition(func() ([]domain.TxEvent, error) {
		if c.state.Status == domain.TxStatusPending {
			return nil, &domain.PreconditionError{Message: "transaction already pending"}
		}
		var events []domain.TxEvent
		if c.state.Status.Terminal() {
			events = append(events, c.resetLocked())
		}
		return append(events, c.setLocked(label, domain.TxStatusPending, nil, nil)), nil
	})
}

func (c *Controller) finish(label string, to domain.TxStatus, err error, hash *common.Hash) {
	_ = c.transition(func() ([]domain.TxEvent, error) {
		if hash == nil {
			hash = c.state.TxHash
		}
		return []domain.TxEvent{c.setLocked(label, to, err, hash)}, nil
	})
}

func (c *Controller) setHash(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.TxHash = &hash
}

// setLocked applies a transition and returns its event. Terminal states
// arm the reset timer for the new epoch.
func (c *Controller) setLocked(label string, to domain.TxStatus, err error, hash *common.Hash) domain.TxEvent {
	from := c.state.Status
	c.epoch++
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
	c.state = State{Status: to, Err: err, TxHash: hash, Label: label}
	if err != nil {
		c.state.ErrorMessage = Describe(err)
	}
	if to.Terminal() && c.resetDelay > 0 {
		epoch := c.epoch
		c.resetTimer = time.AfterFunc(c.resetDelay, func() { c.expire(epoch) })
	}
	ev := domain.TxEvent{Label: label, From: from, To: to, ErrorMessage: c.state.ErrorMessage}
	if hash != nil {
		ev.TxHash = *hash
	}
	return ev
}

// resetLocked returns a terminal controller to idle.
func (c *Controller) resetLocked() domain.TxEvent {
	return c.setLocked(c.state.Label, domain.TxStatusIdle, nil, nil)
}

func (c *Controller) expire(epoch uint64) {
	_ = c.transition(func() ([]domain.TxEvent, error) {
		if c.epoch != epoch || !c.state.Status.Terminal() {
			return nil, nil
		}
		return []domain.TxEvent{c.resetLocked()}, nil
	})
}

// transition applies a state change under mu and delivers its events with
// mu released. notifyMu is always taken first and held until delivery ends,
// so events reach observers in transition order.
func (c *Controller) transition(apply func() ([]domain.TxEvent, error)) error {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	events, err := apply()
	c.mu.Unlock()

	for _, ev := range events {
		for _, obs := range c.observers {
			obs(ev)
		}
	}
	return err
}
