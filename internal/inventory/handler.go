package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/botica-pos/botica/internal/platform/httpx"
	"github.com/botica-pos/botica/internal/shared"
)

// Handler wires HTTP endpoints for the batch ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.handleCreateBatch)
	r.Get("/batches", h.handleListBatches)
	r.Get("/batches/{id}", h.handleGetBatch)
	r.Post("/allocations", h.handleAllocate)
	r.Post("/adjustments", h.handleAdjust)
	r.Post("/restorations", h.handleRestore)
	r.With(httprate.LimitByIP(300, time.Minute)).Get("/stock", h.handleStockOnHand)
	r.Get("/anchor-batch", h.handleAnchorBatch)
	r.Get("/movements", h.handleMovements)
	r.Get("/expiring", h.handleExpiring)
}

type batchResponse struct {
	ID             int64      `json:"id"`
	ProductID      int64      `json:"product_id"`
	LocationID     int64      `json:"location_id"`
	Reference      string     `json:"reference"`
	Quantity       int64      `json:"quantity"`
	Available      int64      `json:"available"`
	UnitPrice      string     `json:"unit_price"`
	SRP            string     `json:"srp"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	EntryDate      time.Time  `json:"entry_date"`
	SourceRef      string     `json:"source_ref,omitempty"`
}

func toBatchResponse(b Batch) batchResponse {
	return batchResponse{
		ID:             b.ID,
		ProductID:      b.ProductID,
		LocationID:     b.LocationID,
		Reference:      b.Reference,
		Quantity:       b.Quantity,
		Available:      b.Available,
		UnitPrice:      b.UnitPrice.String(),
		SRP:            b.SRP.String(),
		ExpirationDate: b.ExpirationDate,
		EntryDate:      b.EntryDate,
		SourceRef:      b.SourceRef,
	}
}

type movementResponse struct {
	ID                 int64     `json:"id"`
	ProductID          int64     `json:"product_id"`
	BatchID            int64     `json:"batch_id"`
	Type               string    `json:"movement_type"`
	Qty                int64     `json:"qty"`
	Remaining          int64     `json:"remaining"`
	ReferenceNo        string    `json:"reference_no,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	ActorID            int64     `json:"actor_id,omitempty"`
	ProvenanceFallback bool      `json:"provenance_fallback"`
	OccurredAt         time.Time `json:"occurred_at"`
}

func toMovementResponse(m Movement) movementResponse {
	return movementResponse{
		ID:                 m.ID,
		ProductID:          m.ProductID,
		BatchID:            m.BatchID,
		Type:               string(m.Type),
		Qty:                m.Qty,
		Remaining:          m.Remaining,
		ReferenceNo:        m.ReferenceNo,
		Reason:             m.Reason,
		Notes:              m.Notes,
		ActorID:            m.ActorID,
		ProvenanceFallback: m.ProvenanceFallback,
		OccurredAt:         m.OccurredAt,
	}
}

type createBatchRequest struct {
	ProductID      int64      `json:"product_id" validate:"required,gt=0"`
	LocationID     int64      `json:"location_id" validate:"required,gt=0"`
	Reference      string     `json:"reference" validate:"max=64"`
	Qty            int64      `json:"qty" validate:"required,gt=0"`
	UnitPrice      string     `json:"unit_price" validate:"required"`
	SRP            string     `json:"srp" validate:"required"`
	ExpirationDate *time.Time `json:"expiration_date"`
	SourceRef      string     `json:"source_ref" validate:"max=64"`
	Notes          string     `json:"notes" validate:"max=500"`
	ActorID        int64      `json:"actor_id"`
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unitPrice, err := decimal.NewFromString(req.UnitPrice)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price is not a valid decimal")
		return
	}
	srp, err := decimal.NewFromString(req.SRP)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "srp is not a valid decimal")
		return
	}
	batch, err := h.service.CreateBatch(r.Context(), CreateBatchInput{
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		Reference:      req.Reference,
		Qty:            req.Qty,
		UnitPrice:      unitPrice,
		SRP:            srp,
		ExpirationDate: req.ExpirationDate,
		SourceRef:      req.SourceRef,
		Notes:          req.Notes,
		ActorID:        req.ActorID,
	})
	if err != nil {
		h.respondError(w, "create batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBatchResponse(batch))
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := queryPaging(q.Get("limit"), q.Get("offset"))
	filter := BatchFilter{
		ProductID:        queryInt64(q.Get("product_id")),
		LocationID:       queryInt64(q.Get("location_id")),
		IncludeExhausted: q.Get("include_exhausted") == "true",
		Limit:            limit,
		Offset:           offset,
	}
	batches, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list batches", err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": out, "limit": limit, "offset": offset})
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be an integer")
		return
	}
	batch, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		h.respondError(w, "get batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchResponse(batch))
}

type allocateRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	LocationID  int64  `json:"location_id" validate:"required,gt=0"`
	Qty         int64  `json:"qty" validate:"gte=0"`
	ReferenceNo string `json:"reference_no" validate:"max=64"`
	Notes       string `json:"notes" validate:"max=500"`
	ActorID     int64  `json:"actor_id"`
}

type allocationLineResponse struct {
	BatchID        int64  `json:"batch_id"`
	BatchReference string `json:"batch_reference"`
	Qty            int64  `json:"qty"`
	SRP            string `json:"srp"`
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Allocate(r.Context(), AllocateInput{
		ProductID:   req.ProductID,
		LocationID:  req.LocationID,
		Qty:         req.Qty,
		ReferenceNo: req.ReferenceNo,
		Notes:       req.Notes,
		ActorID:     req.ActorID,
	})
	if err != nil {
		h.respondError(w, "allocate", err)
		return
	}
	lines := make([]allocationLineResponse, 0, len(result.Lines))
	for _, line := range result.Lines {
		lines = append(lines, allocationLineResponse{
			BatchID:        line.BatchID,
			BatchReference: line.BatchReference,
			Qty:            line.Qty,
			SRP:            line.SRP.String(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":  result.ProductID,
		"location_id": result.LocationID,
		"requested":   result.Requested,
		"allocated":   result.Allocated(),
		"lines":       lines,
	})
}

type adjustRequest struct {
	ProductID int64  `json:"product_id"`
	BatchID   int64  `json:"batch_id" validate:"required,gt=0"`
	NewQty    int64  `json:"new_qty" validate:"gte=0"`
	Reason    string `json:"reason" validate:"required,max=200"`
	Notes     string `json:"notes" validate:"max=500"`
	ActorID   int64  `json:"actor_id"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Adjust(r.Context(), AdjustInput{
		ProductID: req.ProductID,
		BatchID:   req.BatchID,
		NewQty:    req.NewQty,
		Reason:    req.Reason,
		Notes:     req.Notes,
		ActorID:   req.ActorID,
	})
	if err != nil {
		h.respondError(w, "adjust", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"batch_id": result.BatchID,
		"old_qty":  result.OldQty,
		"new_qty":  result.NewQty,
		"delta":    result.Delta,
		"type":     string(result.Type),
	})
}

type restoreRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	LocationID  int64  `json:"location_id" validate:"required,gt=0"`
	Qty         int64  `json:"qty" validate:"required,gt=0"`
	UnitPrice   string `json:"unit_price"`
	ReferenceNo string `json:"reference_no" validate:"max=64"`
	Notes       string `json:"notes" validate:"max=500"`
	ActorID     int64  `json:"actor_id"`
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unitPrice := decimal.Zero
	if req.UnitPrice != "" {
		var err error
		unitPrice, err = decimal.NewFromString(req.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price is not a valid decimal")
			return
		}
	}
	result, err := h.service.Restore(r.Context(), RestoreInput{
		ProductID:   req.ProductID,
		LocationID:  req.LocationID,
		Qty:         req.Qty,
		UnitPrice:   unitPrice,
		ReferenceNo: req.ReferenceNo,
		Notes:       req.Notes,
		ActorID:     req.ActorID,
	})
	if err != nil {
		h.respondError(w, "restore", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"batch_id":            result.BatchID,
		"batch_reference":     result.BatchReference,
		"remaining":           result.Remaining,
		"provenance_fallback": result.ProvenanceFallback,
		"synthesized":         result.Synthesized,
	})
}

func (h *Handler) handleStockOnHand(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID := queryInt64(q.Get("product_id"))
	locationID := queryInt64(q.Get("location_id"))
	if productID == 0 || locationID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and location_id are required")
		return
	}
	total, err := h.service.StockOnHand(r.Context(), productID, locationID)
	if err != nil {
		h.respondError(w, "stock on hand", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":  productID,
		"location_id": locationID,
		"available":   total,
	})
}

func (h *Handler) handleAnchorBatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID := queryInt64(q.Get("product_id"))
	locationID := queryInt64(q.Get("location_id"))
	if productID == 0 || locationID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and location_id are required")
		return
	}
	batch, err := h.service.AnchorBatch(r.Context(), productID, locationID)
	if err != nil {
		h.respondError(w, "anchor batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchResponse(batch))
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := queryPaging(q.Get("limit"), q.Get("offset"))
	filter := MovementFilter{
		ProductID:  queryInt64(q.Get("product_id")),
		LocationID: queryInt64(q.Get("location_id")),
		BatchID:    queryInt64(q.Get("batch_id")),
		Limit:      limit,
		Offset:     offset,
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	movements, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list movements", err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, toMovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out, "limit": limit, "offset": offset})
}

func (h *Handler) handleExpiring(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	locationID := queryInt64(q.Get("location_id"))
	days := int(queryInt64(q.Get("days")))
	if days <= 0 {
		days = 30
	}
	batches, err := h.service.ExpiringBatches(r.Context(), locationID, time.Duration(days)*24*time.Hour, 500)
	if err != nil {
		h.respondError(w, "list expiring", err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": out, "window_days": days})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", err.Error())
	case errors.Is(err, ErrBatchNotFound), errors.Is(err, ErrProductNotFound), errors.Is(err, ErrLocationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateReference):
		httpx.Problem(w, http.StatusConflict, "Duplicate Reference", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func queryPaging(rawLimit, rawOffset string) (int, int) {
	limit := int(queryInt64(rawLimit))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := int(queryInt64(rawOffset))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryInt64(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
