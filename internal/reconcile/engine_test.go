package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjlee/actual-landg-pension/internal/history"
	"github.com/rjlee/actual-landg-pension/internal/ledger"
	mock_ledger "github.com/rjlee/actual-landg-pension/internal/ledger/mocks"
	"github.com/rjlee/actual-landg-pension/internal/mapping"
	"github.com/rjlee/actual-landg-pension/internal/portal"
)

var fixedNow = time.Date(2024, 3, 1, 9, 45, 0, 0, time.UTC)

type fakeObserver struct {
	value float64
	err   error
	calls int
}

func (f *fakeObserver) Observe(context.Context, portal.Credentials) (float64, error) {
	f.calls++
	return f.value, f.err
}

type captureRecorder struct {
	mu      sync.Mutex
	records []history.Record
}

func (c *captureRecorder) Record(_ context.Context, records []history.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, records...)
	return nil
}

type fixture struct {
	gw       *mock_ledger.MockGateway
	observer *fakeObserver
	recorder *captureRecorder
	path     string
	engine   *Engine
}

func newFixture(t *testing.T, mappingJSON string, observed float64) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	path := filepath.Join(t.TempDir(), "mapping.json")
	if mappingJSON != "" {
		require.NoError(t, os.WriteFile(path, []byte(mappingJSON), 0o600))
	}

	f := &fixture{
		gw:       mock_ledger.NewMockGateway(ctrl),
		observer: &fakeObserver{value: observed},
		recorder: &captureRecorder{},
		path:     path,
	}
	f.engine = NewEngine(f.gw, mapping.NewFileStore(path), f.observer, portal.Credentials{}, zerolog.Nop()).
		WithRecorder(f.recorder)
	f.engine.now = func() time.Time { return fixedNow }
	f.engine.passID = func() string { return "pass-1" }
	return f
}

// expectSession sets up a successful open/sync/close around a pass that lists
// the given accounts.
func (f *fixture) expectSession(accountIDs ...string) {
	accounts := make([]ledger.Account, 0, len(accountIDs))
	for _, id := range accountIDs {
		accounts = append(accounts, ledger.Account{ID: id})
	}
	f.gw.EXPECT().Open(gomock.Any()).Return(nil)
	f.gw.EXPECT().Sync(gomock.Any()).Return(nil).Times(2)
	f.gw.EXPECT().Accounts(gomock.Any()).Return(accounts, nil)
	f.gw.EXPECT().Close(gomock.Any()).Return(nil)
}

func (f *fixture) entries(t *testing.T) []mapping.Entry {
	t.Helper()
	entries, err := mapping.NewFileStore(f.path).Load(context.Background())
	require.NoError(t, err)
	return entries
}

func TestRunSync_AppliesDelta(t *testing.T) {
	f := newFixture(t, `[{"accountId":"acct-1","lastBalance":900}]`, 1000)
	f.expectSession("acct-1")
	f.gw.EXPECT().AccountBalance(gomock.Any(), "acct-1", fixedNow).Return(int64(90000), nil)
	f.gw.EXPECT().Payees(gomock.Any()).Return([]ledger.Payee{{ID: "payee-1", Name: PayeeName}}, nil)
	f.gw.EXPECT().AddTransactions(gomock.Any(), "acct-1", []ledger.Transaction{{
		ID:            "landg-acct-1-1709286300000",
		Date:          "2024-03-01",
		Amount:        10000,
		Payee:         "payee-1",
		ImportedPayee: PayeeName,
	}}, ledger.AddOptions{RunTransfers: false, LearnCategories: false}).Return(nil)

	applied := f.engine.RunSync(context.Background())

	assert.Equal(t, 1, applied)
	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, 1000.0, entries[0].LastBalance)
	assert.Equal(t, 1, f.observer.calls)
}

func TestRunSync_LastBalanceIsObservedValue(t *testing.T) {
	observed := 12345.67
	f := newFixture(t, `[{"accountId":"acct-1","lastBalance":0}]`, observed)
	f.expectSession("acct-1")
	f.gw.EXPECT().AccountBalance(gomock.Any(), "acct-1", gomock.Any()).Return(int64(1000001), nil)
	f.gw.EXPECT().Payees(gomock.Any()).Return(nil, nil)
	f.gw.EXPECT().CreatePayee(gomock.Any(), PayeeName).Return("payee-new", nil)
	f.gw.EXPECT().AddTransactions(gomock.Any(), "acct-1", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, txs []ledger.Transaction, _ ledger.AddOptions) error {
			require.Len(t, txs, 1)
			assert.Equal(t, int64(234566), txs[0].Amount)
			assert.Equal(t, "payee-new", txs[0].Payee)
			return nil
		})

	require.Equal(t, 1, f.engine.RunSync(context.Background()))

	assert.Equal(t, observed, f.entries(t)[0].LastBalance, "stored value must equal the observation exactly")
}

func TestRunSync_FallsBackToStoredBalance(t *testing.T) {
	f := newFixture(t, `[{"accountId":"acct-1","lastBalance":500}]`, 1000)
	f.expectSession("acct-1")
	f.gw.EXPECT().AccountBalance(gomock.Any(), "acct-1", gomock.Any()).Return(int64(0), errors.New("balance unavailable"))
	f.gw.EXPECT().Payees(gomock.Any()).Return([]ledger.Payee{{ID: "payee-1", Name: PayeeName}}, nil)
	f.gw.EXPECT().AddTransactions(gomock.Any(), "acct-1", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, txs []ledger.Transaction, _ ledger.AddOptions) error {
			assert.Equal(t, int64(50000), txs[0].Amount)
			return nil
		})

	assert.Equal(t, 1, f.engine.RunSync(context.Background()))
	assert.Equal(t, 1000.0, f.entries(t)[0].LastBalance)
}

func TestRunSync_ZeroDeltaIsNoop(t *testing.T) {
	f := newFixture(t, `[{"accountId":"acct-1","lastBalance":1000}]`, 1000)
	f.expectSession("acct-1")
	f.gw.EXPECT().AccountBalance(gomock.Any(), "acct-1", gomock.Any()).Return(int64(100000), nil)

	assert.Equal(t, 0, f.engine.RunSync(context.Background()))

	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, history.OutcomeUnchanged, f.recorder.records[0].Outcome)
}

func TestRunSync_SecondRunIsIdempotent(t *testing.T) {
	f := newFixture(t, `[{"accountId":"acct-1","lastBalance":900}]`, 1000)

	balance := int64(90000)
	f.gw.EXPECT().Open(gomock.Any()).Return(nil).Times(2)
	f.gw.EXPECT().Close(gomock.Any()).Return(nil).Times(2)
	f.gw.EXPECT().Sync(gomock.Any()).Return(nil).Times(4)
	f.gw.EXPECT().Accounts(gomock.Any()).Return([]ledger.Account{{ID: "acct-1"}}, nil).Times(2)
	f.gw.EXPECT().AccountBalance(gomock.Any(), "acct-1", gomock.Any()).
		DoAndReturn(func(context.Context, string, time.Time) (int64, error) { return balance, nil }).Times(2)
	f.gw.EXPECT().Payees(gomock.Any()).Return([]ledger.Payee{{ID: "payee-1", Name: PayeeName}}, nil)
	f.gw.EXPECT().AddTransactions(gomock.Any(), "acct-1", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, txs []ledger.Transaction, _ ledger.AddOptions) error {
			balance += txs[0].Amount
			return nil
		})

	assert.Equal(t, 1, f.engine.RunSync(context.Background()))
	assert.Equal(t, 0, f.engine.RunSync(context.Background()))
}

func TestRunSync_SkipsUnknownAccountUntouched(t *testing.T) {
	content := `[
  {
    "accountId": "gone",
    "lastBalance": "n/a",
    "label": "old SIPP"
  },
  {
    "accountId": "acct-1",
    "lastBalance": 900
  }
]`
	f := newFixture(t, content, 1000)
	f.expectSession("acct-1")
	f.gw.EXPECT().AccountBalance(gomock.Any(), "acct-1", gomock.Any()).Return(int64(90000), nil)
	f.gw.EXPECT().Payees(gomock.Any()).Return([]ledger.Payee{{ID: "payee-1", Name: PayeeName}}, nil)
	f.gw.EXPECT().AddTransactions(gomock.Any(), "acct-1", gomock.Any(), gomock.Any()).Return(nil)

	assert.Equal(t, 1, f.engine.RunSync(context.Background()))

	data, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `{
    "accountId": "gone",
    "lastBalance": "n/a",
    "label": "old SIPP"
  }`)

	require.Len(t, f.recorder.records, 2)
	assert.Equal(t, history.OutcomeSkipped, f.recorder.records[0].Outcome)
	assert.Equal(t, history.OutcomeApplied, f.recorder.records[1].Outcome)
}

func TestRunSync_PayeeFallsBackToRawName(t *testing.T) {
	f := newFixture(t, `[{"accountId":"acct-1","lastBalance":900}]`, 1000)
	f.expectSession("acct-1")
	f.gw.EXPECT().AccountBalance(gomock.Any(), "acct-1", gomock.Any()).Return(int64(90000), nil)
	f.gw.EXPECT().Payees(gomock.Any()).Return(nil, errors.New("payees unavailable"))
	f.gw.EXPECT().CreatePayee(gomock.Any(), PayeeName).Return("", errors.New("create failed"))
	f.gw.EXPECT().AddTransactions(gomock.Any(), "acct-1", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, txs []ledger.Transaction, _ ledger.AddOptions) error {
			assert.Equal(t, PayeeName, txs[0].Payee)
			assert.Equal(t, PayeeName, txs[0].ImportedPayee)
			return nil
		})

	assert.Equal(t, 1, f.engine.RunSync(context.Background()))
}

func TestRunSync_FailedSubmissionContinues(t *testing.T) {
	f := newFixture(t, `[{"accountId":"a","lastBalance":900},{"accountId":"b","lastBalance":800}]`, 1000)
	f.expectSession("a", "b")
	f.gw.EXPECT().AccountBalance(gomock.Any(), "a", gomock.Any()).Return(int64(90000), nil)
	f.gw.EXPECT().AccountBalance(gomock.Any(), "b", gomock.Any()).Return(int64(80000), nil)
	f.gw.EXPECT().Payees(gomock.Any()).Return([]ledger.Payee{{ID: "payee-1", Name: PayeeName}}, nil).Times(2)
	f.gw.EXPECT().AddTransactions(gomock.Any(), "a", gomock.Any(), gomock.Any()).Return(errors.New("rejected"))
	f.gw.EXPECT().AddTransactions(gomock.Any(), "b", gomock.Any(), gomock.Any()).Return(nil)

	assert.Equal(t, 1, f.engine.RunSync(context.Background()))

	entries := f.entries(t)
	assert.Equal(t, 900.0, entries[0].LastBalance, "failed entry keeps its old value")
	assert.Equal(t, 1000.0, entries[1].LastBalance)
	assert.Equal(t, history.OutcomeFailed, f.recorder.records[0].Outcome)
	assert.Equal(t, "rejected", f.recorder.records[0].Error)
}

func TestRunSync_MissingMappingFile(t *testing.T) {
	f := newFixture(t, "", 1000)
	f.expectSession("acct-1")

	assert.Equal(t, 0, f.engine.RunSync(context.Background()))

	assert.Empty(t, f.entries(t))
}

func TestRunSync_CorruptMappingStartsEmpty(t *testing.T) {
	f := newFixture(t, "{broken", 1000)
	f.expectSession("acct-1")

	assert.Equal(t, 0, f.engine.RunSync(context.Background()))
}

func TestRunSync_OpenFailure(t *testing.T) {
	f := newFixture(t, `[{"accountId":"acct-1","lastBalance":900}]`, 1000)
	f.gw.EXPECT().Open(gomock.Any()).Return(errors.New("server down"))

	applied, err := f.engine.RunSyncE(context.Background())

	assert.Equal(t, 0, applied)
	assert.ErrorContains(t, err, "server down")
	assert.Zero(t, f.observer.calls)
}

func TestRunSync_ObservationFailureClosesLedger(t *testing.T) {
	f := newFixture(t, `[{"accountId":"acct-1","lastBalance":900}]`, 0)
	f.observer.err = errors.New("2FA code timeout")
	f.gw.EXPECT().Open(gomock.Any()).Return(nil)
	f.gw.EXPECT().Sync(gomock.Any()).Return(nil)
	f.gw.EXPECT().Accounts(gomock.Any()).Return([]ledger.Account{{ID: "acct-1"}}, nil)
	f.gw.EXPECT().Close(gomock.Any()).Return(nil)

	applied, err := f.engine.RunSyncE(context.Background())

	assert.Equal(t, 0, applied)
	assert.ErrorContains(t, err, "2FA code timeout")
	assert.NotErrorIs(t, err, ErrLedgerRelease)
	assert.Equal(t, 900.0, f.entries(t)[0].LastBalance)
}

func TestRunSync_TransientSyncErrorsIgnored(t *testing.T) {
	f := newFixture(t, `[{"accountId":"acct-1","lastBalance":1000}]`, 1000)
	f.gw.EXPECT().Open(gomock.Any()).Return(nil)
	f.gw.EXPECT().Sync(gomock.Any()).Return(errors.New("offline")).Times(2)
	f.gw.EXPECT().Accounts(gomock.Any()).Return([]ledger.Account{{ID: "acct-1"}}, nil)
	f.gw.EXPECT().AccountBalance(gomock.Any(), "acct-1", gomock.Any()).Return(int64(100000), nil)
	f.gw.EXPECT().Close(gomock.Any()).Return(nil)

	applied, err := f.engine.RunSyncE(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, applied)
}

func TestRunSync_CloseFailureIsFatal(t *testing.T) {
	f := newFixture(t, `[]`, 1000)
	f.gw.EXPECT().Open(gomock.Any()).Return(nil).Times(2)
	f.gw.EXPECT().Sync(gomock.Any()).Return(nil).Times(4)
	f.gw.EXPECT().Accounts(gomock.Any()).Return(nil, nil).Times(2)
	f.gw.EXPECT().Close(gomock.Any()).Return(errors.New("close failed")).Times(2)

	_, err := f.engine.RunSyncE(context.Background())
	require.ErrorIs(t, err, ErrLedgerRelease)

	assert.Panics(t, func() { f.engine.RunSync(context.Background()) })
}
