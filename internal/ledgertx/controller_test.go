package ledgertx

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

type fakeWaiter struct {
	mu     sync.Mutex
	status uint64
	err    error
	reason string
	gate   chan struct{}
	waited []common.Hash
	onWait func()
}

func (w *fakeWaiter) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	w.mu.Lock()
	w.waited = append(w.waited, hash)
	gate, onWait := w.gate, w.onWait
	w.mu.Unlock()
	if onWait != nil {
		onWait()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	status := w.status
	if status == 0 && w.reason == "" {
		status = types.ReceiptStatusSuccessful
	}
	return &types.Receipt{TxHash: hash, Status: status, BlockNumber: big.NewInt(7)}, nil
}

func (w *fakeWaiter) ExplainRevert(_ context.Context, _ *types.Receipt) string {
	return w.reason
}

func hashProducer(h common.Hash) Producer {
	return func(context.Context) (common.Hash, error) { return h, nil }
}

type recorder struct {
	mu     sync.Mutex
	events []domain.TxEvent
}

func (r *recorder) observe(ev domain.TxEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) path() []domain.TxStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TxStatus
	for i, ev := range r.events {
		if i == 0 {
			out = append(out, ev.From)
		}
		out = append(out, ev.To)
	}
	return out
}

func TestRunTxSuccessRunsLocalThenGlobalRefresh(t *testing.T) {
	var order []string
	waiter := &fakeWaiter{}
	rec := &recorder{}
	ctrl := New(waiter,
		WithResetDelay(0),
		WithObserver(rec.observe),
		WithAfterTx(
			func(context.Context, *domain.TxResult) error { order = append(order, "global-1"); return nil },
			func(context.Context, *domain.TxResult) error { order = append(order, "global-2"); return nil },
		),
	)
	hash := common.HexToHash("0x01")

	res, err := ctrl.RunTx(context.Background(), hashProducer(hash),
		WithLabel("Create Market"),
		WithLocalAfterTx(func(_ context.Context, r *domain.TxResult) error {
			require.NotNil(t, r.Receipt, "local refresh must see the mined receipt")
			assert.Equal(t, domain.TxStatusPending, ctrl.Status())
			order = append(order, "local")
			return nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, hash, res.TxHash)
	assert.Equal(t, []string{"local", "global-1", "global-2"}, order)
	assert.Equal(t, []common.Hash{hash}, waiter.waited)

	st := ctrl.State()
	assert.Equal(t, domain.TxStatusSuccess, st.Status)
	assert.Empty(t, st.ErrorMessage)
	require.NotNil(t, st.TxHash)
	assert.Equal(t, hash, *st.TxHash)
	assert.Equal(t, []domain.TxStatus{domain.TxStatusIdle, domain.TxStatusPending, domain.TxStatusSuccess}, rec.path())
}

func TestRunTxNeverSucceedsBeforeReceipt(t *testing.T) {
	waiter := &fakeWaiter{gate: make(chan struct{})}
	ctrl := New(waiter, WithResetDelay(0))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ctrl.RunTx(context.Background(), hashProducer(common.HexToHash("0x02")))
	}()

	require.Eventually(t, func() bool {
		waiter.mu.Lock()
		defer waiter.mu.Unlock()
		return len(waiter.waited) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.TxStatusPending, ctrl.Status())

	close(waiter.gate)
	<-done
	assert.Equal(t, domain.TxStatusSuccess, ctrl.Status())
}

func TestRunTxWithoutWaiterFailsFast(t *testing.T) {
	rec := &recorder{}
	ctrl := New(nil, WithResetDelay(0), WithObserver(rec.observe))
	called := false

	_, err := ctrl.RunTx(context.Background(), func(context.Context) (common.Hash, error) {
		called = true
		return common.Hash{}, nil
	})
	require.Error(t, err)

	var pre *domain.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.False(t, called)
	assert.Equal(t, MsgRPCNotReady, ctrl.State().ErrorMessage)
	assert.Equal(t, []domain.TxStatus{domain.TxStatusIdle, domain.TxStatusError}, rec.path())
}

func TestRunTxRejectsSecondCallWhilePending(t *testing.T) {
	waiter := &fakeWaiter{gate: make(chan struct{})}
	ctrl := New(waiter, WithResetDelay(0))

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.RunTx(context.Background(), hashProducer(common.HexToHash("0x03")))
		done <- err
	}()
	require.Eventually(t, func() bool { return ctrl.Status() == domain.TxStatusPending }, time.Second, time.Millisecond)

	sends := 0
	_, err := ctrl.RunTx(context.Background(), func(context.Context) (common.Hash, error) {
		sends++
		return common.Hash{}, nil
	})
	var pre *domain.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Zero(t, sends)
	assert.Equal(t, domain.TxStatusPending, ctrl.Status())

	close(waiter.gate)
	require.NoError(t, <-done)
}

func TestRunTxRevertedReceipt(t *testing.T) {
	waiter := &fakeWaiter{status: types.ReceiptStatusFailed, reason: "PositionsLocked"}
	globalRan := false
	ctrl := New(waiter, WithResetDelay(0), WithAfterTx(func(context.Context, *domain.TxResult) error {
		globalRan = true
		return nil
	}))

	_, err := ctrl.RunTx(context.Background(), hashProducer(common.HexToHash("0x04")))
	var reverted *domain.ExecutionRevertedError
	require.ErrorAs(t, err, &reverted)
	assert.Equal(t, common.HexToHash("0x04"), reverted.TxHash)
	assert.False(t, globalRan)

	st := ctrl.State()
	assert.Equal(t, domain.TxStatusError, st.Status)
	assert.Equal(t, "Execution reverted: PositionsLocked", st.ErrorMessage)
	require.NotNil(t, st.TxHash)
}

func TestRunTxProducerFailures(t *testing.T) {
	tests := []struct {
		name    string
		produce Producer
		want    string
	}{
		{
			name: "gas cap refusal",
			produce: func(context.Context) (common.Hash, error) {
				return common.Hash{}, &domain.SubmissionError{ProviderCode: -32000, Message: "exceeds block gas limit"}
			},
			want: "exceeds block gas limit (the RPC node refused the request because the gas limit exceeds its cap; the contract did not revert)",
		},
		{
			name: "wallet rejection",
			produce: func(context.Context) (common.Hash, error) {
				return common.Hash{}, errors.New("user rejected the request")
			},
			want: "user rejected the request",
		},
		{
			name: "panic",
			produce: func(context.Context) (common.Hash, error) {
				panic("boom")
			},
			want: "ledgertx: producer panicked: boom",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			waiter := &fakeWaiter{}
			ctrl := New(waiter, WithResetDelay(0))
			_, err := ctrl.RunTx(context.Background(), tc.produce)
			require.Error(t, err)
			assert.Equal(t, tc.want, ctrl.State().ErrorMessage)
			assert.Empty(t, waiter.waited)
		})
	}
}

func TestRunTxRefreshFailureIsError(t *testing.T) {
	ctrl := New(&fakeWaiter{}, WithResetDelay(0), WithAfterTx(func(context.Context, *domain.TxResult) error {
		return errors.New("balances unavailable")
	}))
	_, err := ctrl.RunTx(context.Background(), hashProducer(common.HexToHash("0x05")))
	require.Error(t, err)
	assert.Equal(t, domain.TxStatusError, ctrl.Status())
	assert.Contains(t, ctrl.State().ErrorMessage, "balances unavailable")
}

func TestTerminalStatusResetsToIdle(t *testing.T) {
	ctrl := New(&fakeWaiter{}, WithResetDelay(20*time.Millisecond))
	_, err := ctrl.RunTx(context.Background(), hashProducer(common.HexToHash("0x06")))
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusSuccess, ctrl.Status())

	require.Eventually(t, func() bool { return ctrl.Status() == domain.TxStatusIdle }, time.Second, 5*time.Millisecond)
	st := ctrl.State()
	assert.Empty(t, st.ErrorMessage)
	assert.Nil(t, st.TxHash)
}

func TestObserverReadsStateDuringReset(t *testing.T) {
	var ctrl *Controller
	var seen []domain.TxStatus
	ctrl = New(&fakeWaiter{}, WithResetDelay(time.Millisecond), WithObserver(func(ev domain.TxEvent) {
		if ev.To == domain.TxStatusSuccess {
			time.Sleep(20 * time.Millisecond)
		}
		seen = append(seen, ctrl.State().Status)
	}))

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.RunTx(context.Background(), hashProducer(common.HexToHash("0x08")))
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunTx did not return")
	}
	require.Eventually(t, func() bool { return ctrl.Status() == domain.TxStatusIdle }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		ctrl.notifyMu.Lock()
		defer ctrl.notifyMu.Unlock()
		return len(seen) == 3
	}, time.Second, time.Millisecond)
}

func TestNewRunCancelsPendingReset(t *testing.T) {
	waiter := &fakeWaiter{}
	rec := &recorder{}
	ctrl := New(waiter, WithResetDelay(30*time.Millisecond), WithObserver(rec.observe))

	_, err := ctrl.RunTx(context.Background(), func(context.Context) (common.Hash, error) {
		return common.Hash{}, errors.New("first")
	})
	require.Error(t, err)

	waiter.gate = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ctrl.RunTx(context.Background(), hashProducer(common.HexToHash("0x07")))
	}()
	require.Eventually(t, func() bool { return ctrl.Status() == domain.TxStatusPending }, time.Second, time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, domain.TxStatusPending, ctrl.Status(), "stale reset must not clobber a new run")

	close(waiter.gate)
	<-done
	assert.Equal(t, []domain.TxStatus{
		domain.TxStatusIdle, domain.TxStatusPending, domain.TxStatusError,
		domain.TxStatusIdle, domain.TxStatusPending, domain.TxStatusSuccess,
	}, rec.path()[:6])
}

func TestIndependentControllersDoNotInterfere(t *testing.T) {
	gate := make(chan struct{})
	waiter := &fakeWaiter{gate: gate}
	back := New(waiter, WithResetDelay(0))
	lay := New(waiter, WithResetDelay(0))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = back.RunTx(context.Background(), hashProducer(common.HexToHash("0xb0")))
	}()
	go func() {
		defer wg.Done()
		_, _ = lay.RunTx(context.Background(), func(context.Context) (common.Hash, error) {
			<-gate
			return common.Hash{}, errors.New("lay rejected")
		})
	}()

	require.Eventually(t, func() bool {
		return back.Status() == domain.TxStatusPending && lay.Status() == domain.TxStatusPending
	}, time.Second, time.Millisecond)

	close(gate)
	wg.Wait()

	assert.Equal(t, domain.TxStatusSuccess, back.Status())
	assert.Empty(t, back.State().ErrorMessage)
	assert.Equal(t, domain.TxStatusError, lay.Status())
	assert.Equal(t, "lay rejected", lay.State().ErrorMessage)
}

func TestFailSkipsPending(t *testing.T) {
	rec := &recorder{}
	ctrl := New(&fakeWaiter{}, WithResetDelay(0), WithObserver(rec.observe))
	require.NoError(t, ctrl.Fail(&domain.PreconditionError{Message: "Wallet not connected."}))
	assert.Equal(t, "Wallet not connected.", ctrl.State().ErrorMessage)
	assert.Equal(t, []domain.TxStatus{domain.TxStatusIdle, domain.TxStatusError}, rec.path())
}
