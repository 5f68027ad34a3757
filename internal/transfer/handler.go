package transfer

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/botica-pos/botica/internal/inventory"
	"github.com/botica-pos/botica/internal/platform/httpx"
	"github.com/botica-pos/botica/internal/shared"
)

// Handler wires HTTP endpoints for stock transfers.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handlePost)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
}

type lineRequest struct {
	ProductID int64 `json:"product_id" validate:"required_without=BatchID"`
	BatchID   int64 `json:"batch_id"`
	Qty       int64 `json:"qty" validate:"required,gt=0"`
}

type postRequest struct {
	Number           string        `json:"number" validate:"max=64"`
	SourceLocationID int64         `json:"source_location_id" validate:"required,gt=0"`
	DestLocationID   int64         `json:"dest_location_id" validate:"required,gt=0"`
	Lines            []lineRequest `json:"lines" validate:"required,min=1,dive"`
	Notes            string        `json:"notes" validate:"max=500"`
	ActorID          int64         `json:"actor_id"`
}

type lineResponse struct {
	ProductID   int64  `json:"product_id"`
	BatchID     int64  `json:"batch_id"`
	DestBatchID int64  `json:"dest_batch_id"`
	Qty         int64  `json:"qty"`
	UnitPrice   string `json:"unit_price"`
	SRP         string `json:"srp"`
}

type transferResponse struct {
	ID               int64          `json:"id"`
	Number           string         `json:"number"`
	SourceLocationID int64          `json:"source_location_id"`
	DestLocationID   int64          `json:"dest_location_id"`
	Status           string         `json:"status"`
	Notes            string         `json:"notes,omitempty"`
	PostedAt         time.Time      `json:"posted_at"`
	Lines            []lineResponse `json:"lines,omitempty"`
}

func toResponse(t Transfer) transferResponse {
	resp := transferResponse{
		ID:               t.ID,
		Number:           t.Number,
		SourceLocationID: t.SourceLocationID,
		DestLocationID:   t.DestLocationID,
		Status:           string(t.Status),
		Notes:            t.Notes,
		PostedAt:         t.PostedAt,
	}
	for _, line := range t.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ProductID:   line.ProductID,
			BatchID:     line.BatchID,
			DestBatchID: line.DestBatchID,
			Qty:         line.Qty,
			UnitPrice:   line.UnitPrice.String(),
			SRP:         line.SRP.String(),
		})
	}
	return resp
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := Input{
		Number:           req.Number,
		SourceLocationID: req.SourceLocationID,
		DestLocationID:   req.DestLocationID,
		Notes:            req.Notes,
		ActorID:          req.ActorID,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ProductID: line.ProductID, BatchID: line.BatchID, Qty: line.Qty})
	}
	posted, err := h.service.Post(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(posted))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{Limit: 100}
	if raw := q.Get("location_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "location_id must be an integer")
			return
		}
		filter.LocationID = id
	}
	transfers, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]transferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, toResponse(t))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be an integer")
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(t))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSameLocation), errors.Is(err, ErrEmptyTransfer), errors.Is(err, ErrBatchMismatch), errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, inventory.ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, inventory.ErrBatchNotFound), errors.Is(err, inventory.ErrLocationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		h.logger.Error("transfer request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
