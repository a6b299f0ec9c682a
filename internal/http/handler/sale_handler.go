package handler

import (
	"net/http"
	"strconv"
	"time"

	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/http/response"
	"flash-sale-reservation-service/internal/observability"
	"flash-sale-reservation-service/internal/repository"
	"flash-sale-reservation-service/internal/service"

	"github.com/go-chi/chi/v5"
)

type SaleHandler struct {
	sales *service.SaleService
}

func NewSaleHandler(sales *service.SaleService) *SaleHandler {
	return &SaleHandler{sales: sales}
}

type lineItemView struct {
	ItemID         string `json:"item_id"`
	SalePrice      int64  `json:"sale_price"`
	StockLimit     int    `json:"stock_limit"`
	StockRemaining int    `json:"stock_remaining"`
}

type saleWindowView struct {
	ID        uint           `json:"id"`
	Title     string         `json:"title"`
	Status    string         `json:"status"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	LineItems []lineItemView `json:"line_items"`
}

func viewSaleWindow(w *domain.SaleWindow) saleWindowView {
	out := saleWindowView{
		ID:        w.ID,
		Title:     w.Title,
		Status:    string(w.Status),
		StartTime: w.StartTime,
		EndTime:   w.EndTime,
		LineItems: make([]lineItemView, 0, len(w.LineItems)),
	}
	for _, li := range w.LineItems {
		out.LineItems = append(out.LineItems, lineItemView{
			ItemID:         li.ItemID,
			SalePrice:      li.SalePrice,
			StockLimit:     li.StockLimit,
			StockRemaining: li.StockRemaining,
		})
	}
	return out
}

func saleIDParam(r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (h *SaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := saleIDParam(r)
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid sale id", nil)
		return
	}
	window, err := h.sales.Get(id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, viewSaleWindow(window))
}

type createSaleRequest struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	LineItems []struct {
		ItemID     string `json:"item_id"`
		SalePrice  int64  `json:"sale_price"`
		StockLimit int    `json:"stock_limit"`
	} `json:"line_items"`
}

func (h *SaleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	window := &domain.SaleWindow{
		Title:     req.Title,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	for _, li := range req.LineItems {
		window.LineItems = append(window.LineItems, domain.LineItem{
			ItemID:     li.ItemID,
			SalePrice:  li.SalePrice,
			StockLimit: li.StockLimit,
		})
	}
	if err := h.sales.CreateWindow(r.Context(), window); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "sale_window_created", "sale_window_id", window.ID)
	response.JSON(w, r, http.StatusCreated, viewSaleWindow(window))
}

func (h *SaleHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := saleIDParam(r)
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid sale id", nil)
		return
	}
	if err := h.sales.Activate(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "sale_window_activated", "sale_window_id", id)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": string(domain.SaleStatusActive)})
}

func (h *SaleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := saleIDParam(r)
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid sale id", nil)
		return
	}
	if err := h.sales.Cancel(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "sale_window_cancelled", "sale_window_id", id)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": string(domain.SaleStatusCancelled)})
}

func (h *SaleHandler) ListReservations(w http.ResponseWriter, r *http.Request) {
	id, ok := saleIDParam(r)
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid sale id", nil)
		return
	}

	query := repository.ReservationListQuery{}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil {
		query.PageSize = size
	}
	if status := r.URL.Query().Get("status"); status != "" {
		query.Status = domain.ReservationStatus(status)
	}

	result, err := h.sales.ListReservations(id, query)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}
