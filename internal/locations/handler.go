package locations

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stockpoint/stockpoint/internal/platform/httpx"
)

// Handler exposes the location directory read surface.
type Handler struct {
	logger    *slog.Logger
	directory Directory
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, directory Directory) *Handler {
	return &Handler{logger: logger, directory: directory}
}

// MountRoutes registers location routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}/destinations", h.handleDestinations)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	locs, err := h.directory.List(r.Context())
	if err != nil {
		h.logger.Error("list locations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"locations": views(locs)})
}

func (h *Handler) handleDestinations(w http.ResponseWriter, r *http.Request) {
	originID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || originID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid location id")
		return
	}
	locs, err := h.directory.DestinationChoices(r.Context(), originID)
	if err != nil {
		h.logger.Error("destination choices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"destinations": views(locs)})
}

type locationPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func views(locs []Location) []locationPayload {
	out := make([]locationPayload, 0, len(locs))
	for _, loc := range locs {
		out = append(out, locationPayload{ID: loc.ID, Name: loc.Name})
	}
	return out
}
