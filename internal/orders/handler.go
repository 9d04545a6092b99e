package orders

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stockpoint/stockpoint/internal/platform/httpx"
	"github.com/stockpoint/stockpoint/internal/shared"
)

// Handler exposes the purchase-order HTTP surface.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/receive", h.handleReceive)
	r.Post("/{id}/cancel", h.handleCancel)
}

type createLineRequest struct {
	ProductID int64    `json:"product_id" validate:"required"`
	VariantID int64    `json:"variant_id"`
	Qty       int64    `json:"qty" validate:"required,gt=0"`
	UnitPrice *float64 `json:"unit_price"`
	Note      string   `json:"note"`
}

type createRequest struct {
	Vendor       string              `json:"vendor" validate:"required"`
	LocationID   int64               `json:"location_id" validate:"required"`
	ExpectedDate string              `json:"expected_date"`
	Note         string              `json:"note"`
	Lines        []createLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	var expected time.Time
	if req.ExpectedDate != "" {
		t, err := time.Parse("2006-01-02", req.ExpectedDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expected_date must be YYYY-MM-DD")
			return
		}
		expected = t
	}

	actor := shared.ActorFromContext(r.Context())
	input := CreateInput{
		Vendor:       req.Vendor,
		LocationID:   req.LocationID,
		ExpectedDate: expected,
		Note:         req.Note,
		ActorID:      actor.ID,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			Note:      line.Note,
		})
	}

	order, lines, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, orderView(order, lines))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	filters := ListFilters{
		Status:  q.Get("status"),
		Search:  q.Get("q"),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
	}

	items, total, err := h.service.List(r.Context(), perPage, (page-1)*perPage, filters)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	meta := shared.NewPagination(page, perPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": listViews(items), "pagination": meta})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	order, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderView(order, lines))
}

type receiveRequest struct {
	Lines map[string]int64 `json:"lines" validate:"required,min=1"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	quantities := make(map[uuid.UUID]int64, len(req.Lines))
	for key, qty := range req.Lines {
		lineID, err := uuid.Parse(key)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid line id "+key)
			return
		}
		quantities[lineID] = qty
	}

	actor := shared.ActorFromContext(r.Context())
	result, err := h.service.Receive(r.Context(), ReceiveInput{
		OrderID:        id,
		Quantities:     quantities,
		ActorID:        actor.ID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.Error("receive order", slog.String("order_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderView(result.Order, result.Lines))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	actor := shared.ActorFromContext(r.Context())
	order, err := h.service.Cancel(r.Context(), id, actor.ID)
	if err != nil {
		h.logger.Error("cancel order", slog.String("order_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderView(order, nil))
}

type linePayload struct {
	ID          string  `json:"id"`
	ProductID   int64   `json:"product_id"`
	VariantID   int64   `json:"variant_id,omitempty"`
	ProductName string  `json:"product_name"`
	QtyOrdered  int64   `json:"qty_ordered"`
	QtyReceived int64   `json:"qty_received"`
	Remaining   int64   `json:"remaining"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
	Note        string  `json:"note,omitempty"`
}

type orderPayload struct {
	ID           string        `json:"id"`
	Number       string        `json:"number"`
	Vendor       string        `json:"vendor"`
	LocationID   int64         `json:"location_id"`
	Status       string        `json:"status"`
	OrderDate    string        `json:"order_date"`
	ExpectedDate string        `json:"expected_date,omitempty"`
	TotalAmount  float64       `json:"total_amount"`
	Note         string        `json:"note,omitempty"`
	Version      int64         `json:"version"`
	CreatedAt    string        `json:"created_at"`
	Lines        []linePayload `json:"lines,omitempty"`
}

func orderView(po PurchaseOrder, lines []Line) orderPayload {
	view := orderPayload{
		ID:          po.ID.String(),
		Number:      po.Number,
		Vendor:      po.Vendor,
		LocationID:  po.LocationID,
		Status:      string(po.Status),
		OrderDate:   po.OrderDate.Format(time.RFC3339),
		TotalAmount: po.TotalAmount,
		Note:        po.Note,
		Version:     po.Version,
		CreatedAt:   po.CreatedAt.Format(time.RFC3339),
	}
	if !po.ExpectedDate.IsZero() {
		view.ExpectedDate = po.ExpectedDate.Format("2006-01-02")
	}
	for _, line := range lines {
		view.Lines = append(view.Lines, linePayload{
			ID:          line.ID.String(),
			ProductID:   line.ProductID,
			VariantID:   line.VariantID,
			ProductName: line.ProductName,
			QtyOrdered:  line.QtyOrdered,
			QtyReceived: line.QtyReceived,
			Remaining:   line.Remaining(),
			UnitPrice:   line.UnitPrice,
			TotalPrice:  line.TotalPrice,
			Note:        line.Note,
		})
	}
	return view
}

type listPayload struct {
	ID           string  `json:"id"`
	Number       string  `json:"number"`
	Vendor       string  `json:"vendor"`
	LocationID   int64   `json:"location_id"`
	Status       string  `json:"status"`
	OrderDate    string  `json:"order_date"`
	ExpectedDate string  `json:"expected_date,omitempty"`
	TotalAmount  float64 `json:"total_amount"`
	CreatedAt    string  `json:"created_at"`
}

func listViews(items []ListItem) []listPayload {
	views := make([]listPayload, 0, len(items))
	for _, it := range items {
		view := listPayload{
			ID:          it.ID.String(),
			Number:      it.Number,
			Vendor:      it.Vendor,
			LocationID:  it.LocationID,
			Status:      string(it.Status),
			OrderDate:   it.OrderDate.Format(time.RFC3339),
			TotalAmount: it.TotalAmount,
			CreatedAt:   it.CreatedAt.Format(time.RFC3339),
		}
		if !it.ExpectedDate.IsZero() {
			view.ExpectedDate = it.ExpectedDate.Format("2006-01-02")
		}
		views = append(views, view)
	}
	return views
}
