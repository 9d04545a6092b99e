package ledger

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

// Handler exposes the stock ledger read surface and manual adjustments.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/onhand", h.handleOnHand)
	r.Get("/card", h.handleCard)
	r.Post("/adjustments", h.handleAdjust)
}

func (h *Handler) handleOnHand(w http.ResponseWriter, r *http.Request) {
	productID, _ := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	variantID, _ := strconv.ParseInt(r.URL.Query().Get("variant_id"), 10, 64)
	locationID, _ := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)

	qty, err := h.service.OnHand(r.Context(), productID, variantID, locationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":  productID,
		"variant_id":  variantID,
		"location_id": locationID,
		"on_hand":     qty,
	})
}

func (h *Handler) handleCard(w http.ResponseWriter, r *http.Request) {
	filter := HistoryFilter{}
	filter.ProductID, _ = strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	filter.VariantID, _ = strconv.ParseInt(r.URL.Query().Get("variant_id"), 10, 64)
	filter.LocationID, _ = strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}

	entries, err := h.service.History(r.Context(), filter)
	if err != nil {
		h.logger.Error("stock card", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entryViews(entries)})
}

type adjustRequest struct {
	LocationID int64  `json:"location_id" validate:"required"`
	ProductID  int64  `json:"product_id" validate:"required"`
	VariantID  int64  `json:"variant_id"`
	Qty        int64  `json:"qty" validate:"required"`
	Note       string `json:"note"`
	Ref        string `json:"ref"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())

	entry, err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		LocationID: req.LocationID,
		ProductID:  req.ProductID,
		VariantID:  req.VariantID,
		Qty:        req.Qty,
		Note:       req.Note,
		ActorID:    actor.ID,
		Ref:        req.Ref,
	})
	if err != nil {
		h.logger.Error("post adjustment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entryView(entry))
}

type entryPayload struct {
	ID         int64  `json:"id"`
	ProductID  int64  `json:"product_id"`
	VariantID  int64  `json:"variant_id,omitempty"`
	LocationID int64  `json:"location_id"`
	Qty        int64  `json:"qty"`
	Type       string `json:"type"`
	RefType    string `json:"ref_type,omitempty"`
	RefID      string `json:"ref_id,omitempty"`
	Note       string `json:"note,omitempty"`
	ActorID    int64  `json:"actor_id,omitempty"`
	PostedAt   string `json:"posted_at"`
}

func entryView(e Entry) entryPayload {
	view := entryPayload{
		ID:         e.ID,
		ProductID:  e.ProductID,
		VariantID:  e.VariantID,
		LocationID: e.LocationID,
		Qty:        e.Qty,
		Type:       string(e.Type),
		RefType:    e.RefType,
		Note:       e.Note,
		ActorID:    e.ActorID,
		PostedAt:   e.PostedAt.Format(time.RFC3339),
	}
	if e.RefID != uuid.Nil {
		view.RefID = e.RefID.String()
	}
	return view
}

func entryViews(entries []Entry) []entryPayload {
	views := make([]entryPayload, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView(e))
	}
	return views
}
