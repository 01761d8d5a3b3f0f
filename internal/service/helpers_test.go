package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionperps/internal/chain/chaintest"
	"github.com/alanyoungcy/predictionperps/internal/crypto"
	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

const (
	timeout = time.Second
	tick    = time.Millisecond

	testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSigner(t *testing.T) *crypto.PermitSigner {
	t.Helper()
	key, err := crypto.ParseKey(testKeyHex)
	require.NoError(t, err)
	return crypto.NewPermitSigner(key)
}

func newChain(t *testing.T, from common.Address) (*chaintest.Chain, *protocol.Config) {
	t.Helper()
	cfg, err := chaintest.NewConfig()
	require.NoError(t, err)
	return chaintest.New(cfg, from), cfg
}

func field(v any, name string) any {
	return reflect.ValueOf(v).FieldByName(name).Interface()
}

// failingSigner refuses every permit.
type failingSigner struct{ addr common.Address }

func (s failingSigner) Address() common.Address { return s.addr }

func (s failingSigner) SignPermit(context.Context, crypto.PermitDomain, crypto.Permit) (crypto.Signature, error) {
	return crypto.Signature{}, errors.New("user rejected the request")
}

// memBus records published messages.
type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: make(map[string][][]byte), streams: make(map[string][][]byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

func (b *memBus) streamCount(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[stream])
}

// memAudit records audit events.
type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *memAudit) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

// memRuns is an in-memory run journal.
type memRuns struct {
	mu      sync.Mutex
	runs    map[string]domain.MarketCreationRun
	updates int
}

func newMemRuns() *memRuns { return &memRuns{runs: make(map[string]domain.MarketCreationRun)} }

func (r *memRuns) Create(_ context.Context, run domain.MarketCreationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	return nil
}

func (r *memRuns) UpdateSteps(_ context.Context, id string, steps []domain.Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.runs[id]
	run.Steps = steps
	r.runs[id] = run
	r.updates++
	return nil
}

func (r *memRuns) Finish(_ context.Context, run domain.MarketCreationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	return nil
}

func (r *memRuns) GetByID(_ context.Context, id string) (domain.MarketCreationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return domain.MarketCreationRun{}, domain.ErrNotFound
	}
	return run, nil
}

func (r *memRuns) List(context.Context, domain.ListOpts) ([]domain.MarketCreationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MarketCreationRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out, nil
}

// memArchiver captures archived runs.
type memArchiver struct {
	mu       sync.Mutex
	runs     []domain.MarketCreationRun
	receipts []map[domain.StepKey]*domain.ReceiptSummary
}

func (a *memArchiver) ArchiveRun(_ context.Context, run domain.MarketCreationRun, receipts map[domain.StepKey]*domain.ReceiptSummary) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, run)
	a.receipts = append(a.receipts, receipts)
	return "runs/" + run.ID + ".json", nil
}

type notification struct{ event, title, message string }

// memNotifier captures notifications.
type memNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *memNotifier) Notify(_ context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{event, title, message})
	return nil
}

// memLocks is a single-process LockManager.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

func bigs(vs ...int64) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = big.NewInt(v)
	}
	return out
}

// assertBig compares a decoded call argument with want by value. Decoded
// zeros carry an empty non-nil word slice, so reflect-based equality fails.
func assertBig(t *testing.T, want *big.Int, got any) {
	t.Helper()
	v, ok := got.(*big.Int)
	require.True(t, ok, "argument is %T, not *big.Int", got)
	require.Zero(t, want.Cmp(v), "want %s, got %s", want, v)
}
