package transfers_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stockpoint/stockpoint/internal/catalog"
	"github.com/stockpoint/stockpoint/internal/ledger"
	"github.com/stockpoint/stockpoint/internal/ledger/ledgertest"
	"github.com/stockpoint/stockpoint/internal/recon"
	"github.com/stockpoint/stockpoint/internal/shared"
	"github.com/stockpoint/stockpoint/internal/transfers"
)

type productKey struct {
	ProductID int64
	VariantID int64
}

type fakeCatalog struct {
	products map[productKey]catalog.Product
}

func (f *fakeCatalog) Resolve(_ context.Context, productID, variantID int64) (catalog.Product, error) {
	p, ok := f.products[productKey{productID, variantID}]
	if !ok {
		return catalog.Product{}, catalog.ErrUnknownProduct
	}
	return p, nil
}

type memTransferRepo struct {
	ledger    *ledgertest.MemoryLedger
	transfers map[uuid.UUID]transfers.StockTransfer
	lines     map[uuid.UUID][]transfers.Line
}

func newMemTransferRepo(led *ledgertest.MemoryLedger) *memTransferRepo {
	return &memTransferRepo{
		ledger:    led,
		transfers: make(map[uuid.UUID]transfers.StockTransfer),
		lines:     make(map[uuid.UUID][]transfers.Line),
	}
}

func (m *memTransferRepo) WithTx(ctx context.Context, fn func(context.Context, transfers.TxRepository) error) error {
	snap := make(map[uuid.UUID]transfers.StockTransfer, len(m.transfers))
	for k, v := range m.transfers {
		snap[k] = v
	}
	linesSnap := make(map[uuid.UUID][]transfers.Line, len(m.lines))
	for k, v := range m.lines {
		linesSnap[k] = append([]transfers.Line(nil), v...)
	}
	ledgerTx := m.ledger.Begin()
	if err := fn(ctx, &memTransferTx{repo: m, ledgerTx: ledgerTx}); err != nil {
		m.transfers = snap
		m.lines = linesSnap
		return err
	}
	ledgerTx.Commit()
	return nil
}

func (m *memTransferRepo) Get(_ context.Context, id uuid.UUID) (transfers.StockTransfer, []transfers.Line, error) {
	tr, ok := m.transfers[id]
	if !ok {
		return transfers.StockTransfer{}, nil, shared.ErrNotFound
	}
	return tr, append([]transfers.Line(nil), m.lines[id]...), nil
}

func (m *memTransferRepo) List(_ context.Context, limit, offset int, _ transfers.ListFilters) ([]transfers.ListItem, int, error) {
	var items []transfers.ListItem
	for _, tr := range m.transfers {
		items = append(items, transfers.ListItem{ID: tr.ID, Number: tr.Number, Status: tr.Status})
	}
	return items, len(items), nil
}

type memTransferTx struct {
	repo     *memTransferRepo
	ledgerTx *ledgertest.MemoryTx
}

func (t *memTransferTx) Ledger() ledger.Poster { return t.ledgerTx }

func (t *memTransferTx) InsertTransfer(_ context.Context, tr transfers.StockTransfer) error {
	t.repo.transfers[tr.ID] = tr
	return nil
}

func (t *memTransferTx) InsertLine(_ context.Context, line transfers.Line) error {
	t.repo.lines[line.TransferID] = append(t.repo.lines[line.TransferID], line)
	return nil
}

func (t *memTransferTx) MarkCompleted(_ context.Context, id uuid.UUID, completedAt time.Time, version int64) error {
	tr, ok := t.repo.transfers[id]
	if !ok {
		return shared.ErrNotFound
	}
	if tr.Version != version {
		return shared.ErrVersionConflict
	}
	tr.Status = transfers.StatusCompleted
	tr.CompletedAt = completedAt
	tr.Version++
	t.repo.transfers[id] = tr
	return nil
}

func fixture(t *testing.T) (*transfers.Service, *memTransferRepo, *ledgertest.MemoryLedger) {
	t.Helper()
	led := ledgertest.NewMemoryLedger()
	repo := newMemTransferRepo(led)
	cat := &fakeCatalog{products: map[productKey]catalog.Product{
		{ProductID: 7}: {ID: 7, Name: "Arabica Beans 1kg", UnitCost: 14.5},
		{ProductID: 9}: {ID: 9, Name: "Paper Cups 12oz", UnitCost: 0.08},
	}}
	svc := transfers.NewService(repo, cat, nil, nil, nil, recon.NewNumberGenerator(1, nil))
	return svc, repo, led
}

func TestCreateCompletesInOneCall(t *testing.T) {
	svc, _, led := fixture(t)
	led.Seed(7, 0, 1, 20)
	ctx := context.Background()

	tr, lines, err := svc.Create(ctx, transfers.CreateInput{
		OriginID:      1,
		DestinationID: 2,
		ActorID:       3,
		Lines:         []transfers.LineInput{{ProductID: 7, Qty: 8}},
	})
	require.NoError(t, err)
	require.Equal(t, transfers.StatusCompleted, tr.Status)
	require.Regexp(t, `^TR-\d{8}-\d{3}$`, tr.Number)
	require.False(t, tr.CompletedAt.IsZero())
	require.Len(t, lines, 1)
	require.InDelta(t, 14.5, lines[0].UnitPrice, 0.001)

	origin, err := led.OnHand(ctx, 7, 0, 1)
	require.NoError(t, err)
	require.EqualValues(t, 12, origin)
	dest, err := led.OnHand(ctx, 7, 0, 2)
	require.NoError(t, err)
	require.EqualValues(t, 8, dest)

	// debit and credit share the line id so the pair can be correlated
	out := led.EntriesFor(7, 0, 1)
	in := led.EntriesFor(7, 0, 2)
	require.Len(t, out, 1)
	require.Len(t, in, 1)
	require.Equal(t, ledger.EntryTypeTransferOut, out[0].Type)
	require.Equal(t, ledger.EntryTypeTransferIn, in[0].Type)
	require.EqualValues(t, -8, out[0].Qty)
	require.EqualValues(t, 8, in[0].Qty)
	require.Equal(t, lines[0].ID, out[0].RefID)
	require.Equal(t, lines[0].ID, in[0].RefID)
	require.Equal(t, ledger.RefTransferLine, out[0].RefType)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := fixture(t)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, transfers.CreateInput{OriginID: 1, DestinationID: 1,
		Lines: []transfers.LineInput{{ProductID: 7, Qty: 1}}})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	_, _, err = svc.Create(ctx, transfers.CreateInput{OriginID: 1, DestinationID: 2})
	require.Error(t, err)

	_, _, err = svc.Create(ctx, transfers.CreateInput{OriginID: 1, DestinationID: 2,
		Lines: []transfers.LineInput{{ProductID: 7, Qty: 0}}})
	require.Error(t, err)

	_, _, err = svc.Create(ctx, transfers.CreateInput{OriginID: 1, DestinationID: 2,
		Lines: []transfers.LineInput{{ProductID: 404, Qty: 1}}})
	require.ErrorAs(t, err, &verr)
}

func TestCreateWithInsufficientStockStaysPending(t *testing.T) {
	svc, repo, led := fixture(t)
	led.Seed(7, 0, 1, 5)
	ctx := context.Background()

	tr, lines, err := svc.Create(ctx, transfers.CreateInput{
		OriginID:      1,
		DestinationID: 2,
		ActorID:       3,
		Lines:         []transfers.LineInput{{ProductID: 7, Qty: 8}},
	})
	var cerr *transfers.CompletionError
	require.ErrorAs(t, err, &cerr)
	var qerr *shared.QuantityExceededError
	require.ErrorAs(t, err, &qerr)
	require.EqualValues(t, 8, qerr.Requested)
	require.EqualValues(t, 5, qerr.Available)

	// created, pending, no entries posted
	require.Len(t, lines, 1)
	stored, _, getErr := repo.Get(ctx, tr.ID)
	require.NoError(t, getErr)
	require.Equal(t, transfers.StatusPending, stored.Status)
	require.Empty(t, led.EntriesFor(7, 0, 1))
	require.Empty(t, led.EntriesFor(7, 0, 2))

	// stock arrives, retry completion alone
	led.Seed(7, 0, 1, 10)
	completed, err := svc.Complete(ctx, transfers.CompleteInput{TransferID: tr.ID, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, transfers.StatusCompleted, completed.Status)
}

func TestCompleteAllOrNothing(t *testing.T) {
	svc, repo, led := fixture(t)
	// enough for the first line, short on the second
	led.Seed(7, 0, 1, 100)
	led.Seed(9, 0, 1, 3)
	ctx := context.Background()

	tr, _, err := svc.Create(ctx, transfers.CreateInput{
		OriginID:      1,
		DestinationID: 2,
		ActorID:       3,
		Lines: []transfers.LineInput{
			{ProductID: 7, Qty: 10},
			{ProductID: 9, Qty: 5},
		},
	})
	var cerr *transfers.CompletionError
	require.ErrorAs(t, err, &cerr)

	stored, _, getErr := repo.Get(ctx, tr.ID)
	require.NoError(t, getErr)
	require.Equal(t, transfers.StatusPending, stored.Status)

	// the valid line's pair must not have been posted either
	require.Empty(t, led.EntriesFor(7, 0, 1))
	onHand, err := led.OnHand(ctx, 7, 0, 1)
	require.NoError(t, err)
	require.EqualValues(t, 100, onHand)
}

func TestCompleteRevalidatesAtCompletionTime(t *testing.T) {
	svc, _, led := fixture(t)
	led.Seed(7, 0, 1, 5)
	ctx := context.Background()

	tr, _, err := svc.Create(ctx, transfers.CreateInput{
		OriginID:      1,
		DestinationID: 2,
		ActorID:       3,
		Lines:         []transfers.LineInput{{ProductID: 7, Qty: 8}},
	})
	var cerr *transfers.CompletionError
	require.ErrorAs(t, err, &cerr)

	// on-hand shrank further since creation; retry still fails
	led.Seed(7, 0, 1, 2)
	_, err = svc.Complete(ctx, transfers.CompleteInput{TransferID: tr.ID, ActorID: 3})
	var qerr *shared.QuantityExceededError
	require.ErrorAs(t, err, &qerr)
	require.EqualValues(t, 2, qerr.Available)
}

func TestCompleteOnCompletedTransferRejected(t *testing.T) {
	svc, _, led := fixture(t)
	led.Seed(7, 0, 1, 20)
	ctx := context.Background()

	tr, _, err := svc.Create(ctx, transfers.CreateInput{
		OriginID:      1,
		DestinationID: 2,
		ActorID:       3,
		Lines:         []transfers.LineInput{{ProductID: 7, Qty: 8}},
	})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, transfers.CompleteInput{TransferID: tr.ID, ActorID: 3})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	// no double movement
	onHand, err := led.OnHand(ctx, 7, 0, 1)
	require.NoError(t, err)
	require.EqualValues(t, 12, onHand)
}

func TestCompleteUnknownTransfer(t *testing.T) {
	svc, _, _ := fixture(t)
	_, err := svc.Complete(context.Background(), transfers.CompleteInput{TransferID: uuid.New(), ActorID: 3})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
