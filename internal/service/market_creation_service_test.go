package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionperps/internal/chain/chaintest"
	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/marketcreate"
)

func eplDraft() domain.MarketDraft {
	return domain.MarketDraft{
		Name:   " Premier League Winner ",
		Ticker: "epl6",
		Positions: []domain.PositionDraft{
			{Name: "Arsenal", Ticker: "ars"},
			{Name: "Chelsea", Ticker: "che"},
		},
	}
}

type creationFixture struct {
	fake     *chaintest.Chain
	svc      *MarketCreationService
	bus      *memBus
	runs     *memRuns
	audit    *memAudit
	archiver *memArchiver
	notifier *memNotifier
}

func newCreationFixture(t *testing.T) *creationFixture {
	t.Helper()
	fake, cfg := newChain(t, trader)
	f := &creationFixture{
		fake:     fake,
		bus:      newMemBus(),
		runs:     newMemRuns(),
		audit:    &memAudit{},
		archiver: &memArchiver{},
		notifier: &memNotifier{},
	}
	hooks := NewTxHooks(f.bus, f.audit, discardLogger())
	f.svc = NewMarketCreationService(fake, cfg, hooks, &memLocks{}, f.bus, f.runs, f.audit, f.archiver, f.notifier, discardLogger())
	return f
}

func TestCreateJournalsArchivesAndNotifies(t *testing.T) {
	f := newCreationFixture(t)

	run, err := f.svc.Create(context.Background(), eplDraft())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.Equal(t, "Premier League Winner", run.DraftName)
	assert.Equal(t, "EPL6", run.Ticker)
	assert.Equal(t, big.NewInt(1), run.Market.MarketID)
	assert.Equal(t, bigs(1, 2), run.Market.PositionIDs)
	require.NotNil(t, run.FinishedAt)
	for _, s := range run.Steps {
		assert.Equal(t, domain.TxStatusSuccess, s.Status, s.Key)
	}

	stored, err := f.svc.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, stored.Status)
	assert.Positive(t, f.runs.updates)

	assert.Positive(t, f.bus.count(domain.StepsChannel(run.ID)))
	assert.Positive(t, f.bus.count(domain.ChannelTx))
	assert.Equal(t, 1, f.bus.streamCount(domain.StreamRuns))

	require.Len(t, f.archiver.receipts, 1)
	assert.Len(t, f.archiver.receipts[0], len(run.Steps))
	assert.Equal(t, uint64(1), f.archiver.receipts[0][domain.StepCloneMM].Status)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, EventMarketCreated, f.notifier.sent[0].event)

	events := f.audit.Events()
	assert.Contains(t, events, "tx_confirmed")
	assert.Contains(t, events, "market_creation_succeeded")
	assert.Zero(t, f.svc.ActiveRuns())
}

func TestCreateFailureReportsPartialState(t *testing.T) {
	f := newCreationFixture(t)
	f.fake.SetOutcome("initMarket", chaintest.Outcome{Revert: true, RevertReason: "bad seed"})

	run, err := f.svc.Create(context.Background(), eplDraft())
	require.Error(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, domain.StepInitLMSR, run.FailedStep)
	assert.True(t, run.Partial())
	assert.Equal(t, "Execution reverted: bad seed", run.Error)

	require.Len(t, f.notifier.sent, 1)
	n := f.notifier.sent[0]
	assert.Equal(t, EventMarketFailed, n.event)
	assert.Contains(t, n.message, "operator attention")
}

func TestCreateRejectsInvalidDraft(t *testing.T) {
	f := newCreationFixture(t)
	d := eplDraft()
	d.Positions = d.Positions[:1]

	_, err := f.svc.Create(context.Background(), d)
	require.ErrorIs(t, err, domain.ErrInvalidDraft)
	assert.Empty(t, f.fake.Calls())
	assert.Empty(t, f.runs.runs)
}

func TestStartRejectsDuplicateDraft(t *testing.T) {
	f := newCreationFixture(t)
	f.fake.HoldReceipts()

	id, err := f.svc.Start(context.Background(), eplDraft())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.fake.Calls()) == 1 }, timeout, tick)
	assert.Equal(t, 1, f.svc.ActiveRuns())

	_, err = f.svc.Start(context.Background(), eplDraft())
	assert.True(t, errors.Is(err, domain.ErrRunInProgress))

	live, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, live.Status)
	assert.Equal(t, domain.TxStatusPending, live.Steps[0].Status)

	f.fake.Release()
	f.svc.Wait()

	done, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, done.Status)
}

func TestFingerprintIgnoresCaseAndPadding(t *testing.T) {
	a := marketcreate.Normalize(eplDraft(), 4)
	b := eplDraft()
	b.Name = "premier league winner"
	b = marketcreate.Normalize(b, 4)
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	b.Ticker = "EPL7"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestGetUnknownRun(t *testing.T) {
	f := newCreationFixture(t)
	_, err := f.svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPagesRunsWithoutJournal(t *testing.T) {
	fake, cfg := newChain(t, trader)
	svc := NewMarketCreationService(fake, cfg, nil, nil, nil, nil, nil, nil, nil, discardLogger())

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := svc.Create(context.Background(), eplDraft())
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	all, err := svc.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := svc.List(context.Background(), domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := svc.List(context.Background(), domain.ListOpts{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Contains(t, ids, rest[0].ID)
	assert.NotContains(t, []string{page[0].ID, page[1].ID}, rest[0].ID)

	none, err := svc.List(context.Background(), domain.ListOpts{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPageRunsOrdersNewestFirstWithinWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var runs []domain.MarketCreationRun
	for i := 0; i < 5; i++ {
		runs = append(runs, domain.MarketCreationRun{ID: string(rune('a' + i)), StartedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	since, until := base.Add(time.Hour), base.Add(3*time.Hour)

	got := pageRuns(runs, domain.ListOpts{Since: &since, Until: &until, Limit: 2, Offset: 1})
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}
