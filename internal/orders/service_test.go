package orders_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stockpoint/stockpoint/internal/catalog"
	"github.com/stockpoint/stockpoint/internal/ledger"
	"github.com/stockpoint/stockpoint/internal/ledger/ledgertest"
	"github.com/stockpoint/stockpoint/internal/orders"
	"github.com/stockpoint/stockpoint/internal/recon"
	"github.com/stockpoint/stockpoint/internal/shared"
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

// memOrderRepo backs the service with maps plus the shared in-memory ledger.
// WithTx snapshots state and restores it on failure so atomicity expectations
// hold in tests the same way they do against the real repository.
type memOrderRepo struct {
	ledger          *ledgertest.MemoryLedger
	orders          map[uuid.UUID]orders.PurchaseOrder
	lines           map[uuid.UUID][]orders.Line
	versionMismatch bool
}

func newMemOrderRepo(led *ledgertest.MemoryLedger) *memOrderRepo {
	return &memOrderRepo{
		ledger: led,
		orders: make(map[uuid.UUID]orders.PurchaseOrder),
		lines:  make(map[uuid.UUID][]orders.Line),
	}
}

func (m *memOrderRepo) snapshot() (map[uuid.UUID]orders.PurchaseOrder, map[uuid.UUID][]orders.Line) {
	ordersCopy := make(map[uuid.UUID]orders.PurchaseOrder, len(m.orders))
	for k, v := range m.orders {
		ordersCopy[k] = v
	}
	linesCopy := make(map[uuid.UUID][]orders.Line, len(m.lines))
	for k, v := range m.lines {
		linesCopy[k] = append([]orders.Line(nil), v...)
	}
	return ordersCopy, linesCopy
}

func (m *memOrderRepo) WithTx(ctx context.Context, fn func(context.Context, orders.TxRepository) error) error {
	ordersSnap, linesSnap := m.snapshot()
	ledgerTx := m.ledger.Begin()
	err := fn(ctx, &memOrderTx{repo: m, ledgerTx: ledgerTx})
	if err != nil {
		m.orders = ordersSnap
		m.lines = linesSnap
		return err
	}
	ledgerTx.Commit()
	return nil
}

func (m *memOrderRepo) Get(_ context.Context, id uuid.UUID) (orders.PurchaseOrder, []orders.Line, error) {
	po, ok := m.orders[id]
	if !ok {
		return orders.PurchaseOrder{}, nil, shared.ErrNotFound
	}
	return po, append([]orders.Line(nil), m.lines[id]...), nil
}

func (m *memOrderRepo) List(_ context.Context, limit, offset int, _ orders.ListFilters) ([]orders.ListItem, int, error) {
	var items []orders.ListItem
	for _, po := range m.orders {
		items = append(items, orders.ListItem{ID: po.ID, Number: po.Number, Vendor: po.Vendor, Status: po.Status})
	}
	return items, len(items), nil
}

type memOrderTx struct {
	repo     *memOrderRepo
	ledgerTx *ledgertest.MemoryTx
}

func (t *memOrderTx) Ledger() ledger.Poster { return t.ledgerTx }

func (t *memOrderTx) InsertOrder(_ context.Context, po orders.PurchaseOrder) error {
	t.repo.orders[po.ID] = po
	return nil
}

func (t *memOrderTx) InsertLine(_ context.Context, line orders.Line) error {
	t.repo.lines[line.OrderID] = append(t.repo.lines[line.OrderID], line)
	return nil
}

func (t *memOrderTx) UpdateLineReceived(_ context.Context, lineID uuid.UUID, qtyReceived int64) error {
	for orderID, lines := range t.repo.lines {
		for i := range lines {
			if lines[i].ID == lineID {
				t.repo.lines[orderID][i].QtyReceived = qtyReceived
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func (t *memOrderTx) UpdateStatus(_ context.Context, id uuid.UUID, status orders.Status, version int64) error {
	po, ok := t.repo.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	if t.repo.versionMismatch || po.Version != version {
		return shared.ErrVersionConflict
	}
	po.Status = status
	po.Version++
	t.repo.orders[id] = po
	return nil
}

func ptr(v float64) *float64 { return &v }

func fixture(t *testing.T) (*orders.Service, *memOrderRepo, *ledgertest.MemoryLedger) {
	t.Helper()
	led := ledgertest.NewMemoryLedger()
	repo := newMemOrderRepo(led)
	cat := &fakeCatalog{products: map[productKey]catalog.Product{
		{ProductID: 7}:                {ID: 7, Name: "Arabica Beans 1kg", UnitCost: 14.5},
		{ProductID: 7, VariantID: 2}:  {ID: 7, VariantID: 2, Name: "Arabica Beans 1kg / Dark", UnitCost: 15.25, IsVariant: true},
		{ProductID: 9}:                {ID: 9, Name: "Paper Cups 12oz", UnitCost: 0.08},
	}}
	svc := orders.NewService(repo, cat, nil, nil, nil, recon.NewNumberGenerator(1, nil))
	return svc, repo, led
}

func createOrder(t *testing.T, svc *orders.Service, lines ...orders.LineInput) (orders.PurchaseOrder, []orders.Line) {
	t.Helper()
	po, created, err := svc.Create(context.Background(), orders.CreateInput{
		Vendor:     "Bean Supply Co",
		LocationID: 1,
		ActorID:    3,
		Lines:      lines,
	})
	require.NoError(t, err)
	return po, created
}

func TestCreateOrder(t *testing.T) {
	svc, repo, _ := fixture(t)

	po, lines := createOrder(t, svc,
		orders.LineInput{ProductID: 7, Qty: 10},
		orders.LineInput{ProductID: 9, Qty: 500, UnitPrice: ptr(0.07)},
	)

	require.Equal(t, orders.StatusOrdered, po.Status)
	require.Regexp(t, `^PO-\d{8}-\d{3}$`, po.Number)
	require.EqualValues(t, 1, po.Version)
	require.Len(t, lines, 2)
	require.Equal(t, "Arabica Beans 1kg", lines[0].ProductName)
	require.InDelta(t, 145.0, lines[0].TotalPrice, 0.001)  // catalog price default
	require.InDelta(t, 35.0, lines[1].TotalPrice, 0.001)   // explicit price wins
	require.InDelta(t, 180.0, po.TotalAmount, 0.001)

	stored, storedLines, err := repo.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, po.Number, stored.Number)
	require.Len(t, storedLines, 2)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _, _ := fixture(t)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, orders.CreateInput{LocationID: 1, Lines: []orders.LineInput{{ProductID: 7, Qty: 1}}})
	require.Error(t, err)

	_, _, err = svc.Create(ctx, orders.CreateInput{Vendor: "V", LocationID: 1})
	require.Error(t, err)

	_, _, err = svc.Create(ctx, orders.CreateInput{Vendor: "V", LocationID: 1,
		Lines: []orders.LineInput{{ProductID: 7, Qty: 0}}})
	require.Error(t, err)

	_, _, err = svc.Create(ctx, orders.CreateInput{Vendor: "V", LocationID: 1,
		Lines: []orders.LineInput{{ProductID: 404, Qty: 1}}})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestReceiveFullOrder(t *testing.T) {
	svc, _, led := fixture(t)
	po, lines := createOrder(t, svc,
		orders.LineInput{ProductID: 7, Qty: 10},
		orders.LineInput{ProductID: 9, Qty: 500},
	)

	result, err := svc.Receive(context.Background(), orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{
		lines[0].ID: 10,
		lines[1].ID: 500,
	}, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, orders.StatusReceived, result.Order.Status)
	require.EqualValues(t, 2, result.Order.Version)

	onHand, err := led.OnHand(context.Background(), 7, 0, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, onHand)

	entries := led.EntriesFor(7, 0, 1)
	require.Len(t, entries, 1)
	require.Equal(t, ledger.EntryTypeReceipt, entries[0].Type)
	require.Equal(t, ledger.RefOrderLine, entries[0].RefType)
	require.Equal(t, lines[0].ID, entries[0].RefID)
}

func TestReceivePartialThenComplete(t *testing.T) {
	svc, _, led := fixture(t)
	po, lines := createOrder(t, svc, orders.LineInput{ProductID: 7, Qty: 10})
	ctx := context.Background()

	result, err := svc.Receive(ctx, orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{lines[0].ID: 4}, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, orders.StatusPartiallyReceived, result.Order.Status)
	require.EqualValues(t, 4, result.Lines[0].QtyReceived)
	require.EqualValues(t, 6, result.Lines[0].Remaining())

	result, err = svc.Receive(ctx, orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{lines[0].ID: 6}, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, orders.StatusReceived, result.Order.Status)

	onHand, err := led.OnHand(ctx, 7, 0, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, onHand)
	require.Len(t, led.EntriesFor(7, 0, 1), 2)
}

func TestReceiveSkipsNonPositiveQuantities(t *testing.T) {
	svc, _, led := fixture(t)
	po, lines := createOrder(t, svc,
		orders.LineInput{ProductID: 7, Qty: 10},
		orders.LineInput{ProductID: 9, Qty: 500},
	)

	result, err := svc.Receive(context.Background(), orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{
		lines[0].ID: 10,
		lines[1].ID: 0,
	}, ActorID: 3})
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)
	require.Equal(t, orders.StatusPartiallyReceived, result.Order.Status)
	require.Empty(t, led.EntriesFor(9, 0, 1))
}

func TestReceiveNothingToReceive(t *testing.T) {
	svc, _, _ := fixture(t)
	po, lines := createOrder(t, svc, orders.LineInput{ProductID: 7, Qty: 10})

	_, err := svc.Receive(context.Background(), orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{lines[0].ID: 0}, ActorID: 3})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestReceiveOverRemainingRejectsWholeCall(t *testing.T) {
	svc, repo, led := fixture(t)
	po, lines := createOrder(t, svc,
		orders.LineInput{ProductID: 7, Qty: 10},
		orders.LineInput{ProductID: 9, Qty: 500},
	)
	ctx := context.Background()

	_, err := svc.Receive(ctx, orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{
		lines[0].ID: 10,
		lines[1].ID: 501,
	}, ActorID: 3})
	var qerr *shared.QuantityExceededError
	require.ErrorAs(t, err, &qerr)
	require.Equal(t, lines[1].ID, qerr.LineID)
	require.EqualValues(t, 501, qerr.Requested)
	require.EqualValues(t, 500, qerr.Available)

	// no partial effects: valid lines stay unreceived and nothing was posted
	_, storedLines, getErr := repo.Get(ctx, po.ID)
	require.NoError(t, getErr)
	require.EqualValues(t, 0, storedLines[0].QtyReceived)
	require.Empty(t, led.EntriesFor(7, 0, 1))
}

func TestReceiveRejectsForeignLine(t *testing.T) {
	svc, _, _ := fixture(t)
	po, _ := createOrder(t, svc, orders.LineInput{ProductID: 7, Qty: 10})

	_, err := svc.Receive(context.Background(), orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{uuid.New(): 1}, ActorID: 3})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestReceiveOnTerminalOrderRejected(t *testing.T) {
	svc, _, _ := fixture(t)
	po, lines := createOrder(t, svc, orders.LineInput{ProductID: 7, Qty: 10})
	ctx := context.Background()

	_, err := svc.Receive(ctx, orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{lines[0].ID: 10}, ActorID: 3})
	require.NoError(t, err)

	_, err = svc.Receive(ctx, orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{lines[0].ID: 1}, ActorID: 3})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestReceiveVersionConflictRollsBack(t *testing.T) {
	svc, repo, led := fixture(t)
	po, lines := createOrder(t, svc, orders.LineInput{ProductID: 7, Qty: 10})
	repo.versionMismatch = true

	_, err := svc.Receive(context.Background(), orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{lines[0].ID: 10}, ActorID: 3})
	require.ErrorIs(t, err, shared.ErrVersionConflict)
	require.Empty(t, led.EntriesFor(7, 0, 1))

	_, storedLines, getErr := repo.Get(context.Background(), po.ID)
	require.NoError(t, getErr)
	require.EqualValues(t, 0, storedLines[0].QtyReceived)
}

func TestCancelOrder(t *testing.T) {
	svc, _, led := fixture(t)
	po, lines := createOrder(t, svc, orders.LineInput{ProductID: 7, Qty: 10})
	ctx := context.Background()

	_, err := svc.Receive(ctx, orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{lines[0].ID: 4}, ActorID: 3})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, po.ID, 3)
	require.NoError(t, err)
	require.Equal(t, orders.StatusCancelled, cancelled.Status)

	// earlier receipts stay on the ledger, cancellation does not reverse them
	onHand, err := led.OnHand(ctx, 7, 0, 1)
	require.NoError(t, err)
	require.EqualValues(t, 4, onHand)

	_, err = svc.Cancel(ctx, po.ID, 3)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCancelReceivedOrderRejected(t *testing.T) {
	svc, _, _ := fixture(t)
	po, lines := createOrder(t, svc, orders.LineInput{ProductID: 7, Qty: 10})
	ctx := context.Background()

	_, err := svc.Receive(ctx, orders.ReceiveInput{OrderID: po.ID, Quantities: map[uuid.UUID]int64{lines[0].ID: 10}, ActorID: 3})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, po.ID, 3)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}
