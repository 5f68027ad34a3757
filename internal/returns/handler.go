package returns

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/botica-pos/botica/internal/inventory"
	"github.com/botica-pos/botica/internal/platform/httpx"
)

// Handler wires HTTP endpoints for returns.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the returns handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleFile)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/reject", h.handleReject)
}

type lineRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Qty       int64  `json:"qty" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price"`
}

type fileRequest struct {
	Number         string        `json:"number" validate:"max=64"`
	OriginalTxnRef string        `json:"original_txn_ref" validate:"max=64"`
	LocationID     int64         `json:"location_id" validate:"required,gt=0"`
	Lines          []lineRequest `json:"lines" validate:"required,min=1,dive"`
	Reason         string        `json:"reason" validate:"required,max=200"`
	Notes          string        `json:"notes" validate:"max=500"`
	ActorID        int64         `json:"actor_id"`
}

type decisionRequest struct {
	ActorID int64  `json:"actor_id" validate:"required,gt=0"`
	Note    string `json:"note" validate:"max=500"`
}

type lineResponse struct {
	ProductID int64  `json:"product_id"`
	Qty       int64  `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type returnResponse struct {
	ID             int64          `json:"id"`
	Number         string         `json:"number"`
	OriginalTxnRef string         `json:"original_txn_ref,omitempty"`
	LocationID     int64          `json:"location_id"`
	Status         string         `json:"status"`
	Reason         string         `json:"reason,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	DecidedBy      int64          `json:"decided_by,omitempty"`
	DecidedAt      *time.Time     `json:"decided_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Lines          []lineResponse `json:"lines,omitempty"`
}

func toResponse(ret Return) returnResponse {
	resp := returnResponse{
		ID:             ret.ID,
		Number:         ret.Number,
		OriginalTxnRef: ret.OriginalTxnRef,
		LocationID:     ret.LocationID,
		Status:         string(ret.Status),
		Reason:         ret.Reason,
		Notes:          ret.Notes,
		DecidedBy:      ret.DecidedBy,
		DecidedAt:      ret.DecidedAt,
		CreatedAt:      ret.CreatedAt,
	}
	for _, line := range ret.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ProductID: line.ProductID,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice.String(),
		})
	}
	return resp
}

func (h *Handler) handleFile(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := FileInput{
		Number:         req.Number,
		OriginalTxnRef: req.OriginalTxnRef,
		LocationID:     req.LocationID,
		Reason:         req.Reason,
		Notes:          req.Notes,
		ActorID:        req.ActorID,
	}
	for _, line := range req.Lines {
		unitPrice := decimal.Zero
		if line.UnitPrice != "" {
			var err error
			unitPrice, err = decimal.NewFromString(line.UnitPrice)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price is not a valid decimal")
				return
			}
		}
		input.Lines = append(input.Lines, LineInput{ProductID: line.ProductID, Qty: line.Qty, UnitPrice: unitPrice})
	}
	filed, err := h.service.File(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(filed))
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
	if raw := q.Get("status"); raw != "" {
		filter.Status = Status(raw)
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]returnResponse, 0, len(list))
	for _, ret := range list {
		out = append(out, toResponse(ret))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be an integer")
		return
	}
	ret, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(ret))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be an integer")
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ret, err := h.service.Approve(r.Context(), id, req.ActorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(ret))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be an integer")
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ret, err := h.service.Reject(r.Context(), id, req.ActorID, req.Note)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(ret))
}

func urlID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidStateTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrWrongLocation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Wrong Location", err.Error())
	case errors.Is(err, ErrEmptyReturn), errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, inventory.ErrLocationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("return request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
