package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/rl1809/kit-ledger/internal/core/domain"
	"github.com/rl1809/kit-ledger/internal/logger"
	"github.com/rl1809/kit-ledger/internal/tracing"
)

// OrderServicer is satisfied by *service.OrderService.
type OrderServicer interface {
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.OrderView, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
}

// LifecycleServicer is satisfied by *service.LifecycleService.
type LifecycleServicer interface {
	Take(ctx context.Context, orderID string) error
	Deliver(ctx context.Context, orderID string) error
	Revert(ctx context.Context, orderID string) error
	SetPatchSlot(ctx context.Context, itemID string, slot int, name *string) error
}

// InventoryServicer is satisfied by *service.InventoryService.
type InventoryServicer interface {
	Decrement(ctx context.Context, productID, size string, amount int) (bool, error)
	Stock(ctx context.Context, productID, size string) (int, error)
	ListStock(ctx context.Context, productID string) ([]domain.StockUnit, error)
	RealizedRevenue(ctx context.Context) (decimal.Decimal, error)
	ListPatches(ctx context.Context) ([]domain.Patch, error)
}

type HTTPHandler struct {
	orders       OrderServicer
	lifecycle    LifecycleServicer
	inventory    InventoryServicer
	placeTimeout time.Duration
}

func NewHTTPHandler(orders OrderServicer, lifecycle LifecycleServicer, inventory InventoryServicer, placeTimeout time.Duration) *HTTPHandler {
	return &HTTPHandler{orders: orders, lifecycle: lifecycle, inventory: inventory, placeTimeout: placeTimeout}
}

// Routes builds the storefront and admin API.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestContext)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.PlaceOrder)
		r.Get("/stock/{productId}/{size}", h.GetStock)
		r.Get("/patches", h.ListPatches)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)
			r.Post("/orders/{id}/take", h.orderAction(h.lifecycle.Take))
			r.Post("/orders/{id}/deliver", h.orderAction(h.lifecycle.Deliver))
			r.Post("/orders/{id}/revert", h.orderAction(h.lifecycle.Revert))
			r.Put("/order-items/{itemId}/patches/{slot}", h.SetPatchSlot)
			r.Post("/inventory/decrement", h.Decrement)
			r.Get("/inventory/{productId}", h.ListStock)
			r.Get("/revenue", h.RealizedRevenue)
		})
	})
	return r
}

// requestContext starts the request span and attaches a logger carrying the
// request and trace ids.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracing.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		ctx = logger.WithTrace(ctx, map[string]string{
			"request_id": middleware.GetReqID(ctx),
			"method":     r.Method,
			"path":       r.URL.Path,
		})

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		zlog.Ctx(ctx).Debug().Int("status", ww.Status()).Dur("elapsed", time.Since(started)).Msg("request served")
	})
}

// --- Request / Response types ---

type CustomerRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	Notes         string `json:"notes"`
	NeedsShipping bool   `json:"needsShipping"`
}

type LineRequest struct {
	ProductID    string          `json:"productId"`
	ProductCode  string          `json:"productCode"`
	ProductName  string          `json:"productName"`
	Quantity     int             `json:"quantity"`
	Size         string          `json:"size"`
	CustomName   string          `json:"customName"`
	CustomNumber string          `json:"customNumber"`
	Patches      []string        `json:"patches"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Category     string          `json:"category"`
}

type PlaceOrderRequest struct {
	RequestID    string          `json:"requestId"`
	Customer     CustomerRequest `json:"customer"`
	Items        []LineRequest   `json:"items"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
}

func (r PlaceOrderRequest) toDomain() domain.PlaceOrderRequest {
	req := domain.PlaceOrderRequest{
		RequestID: r.RequestID,
		Customer: domain.Customer{
			Name:          r.Customer.Name,
			Email:         r.Customer.Email,
			Phone:         r.Customer.Phone,
			Address:       r.Customer.Address,
			Notes:         r.Customer.Notes,
			NeedsShipping: r.Customer.NeedsShipping,
		},
		ShippingCost: r.ShippingCost,
	}
	for _, l := range r.Items {
		req.Items = append(req.Items, domain.LineRequest{
			ProductID:    l.ProductID,
			ProductCode:  l.ProductCode,
			ProductName:  l.ProductName,
			Quantity:     l.Quantity,
			Size:         l.Size,
			CustomName:   l.CustomName,
			CustomNumber: l.CustomNumber,
			Patches:      l.Patches,
			UnitPrice:    l.UnitPrice,
			Category:     domain.Category(l.Category),
		})
	}
	return req
}

type placeOrderResponse struct {
	OrderID string `json:"orderId"`
	Total   string `json:"total"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Line      *int   `json:"line,omitempty"`
	ProductID string `json:"productId,omitempty"`
	Size      string `json:"size,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

type stockResponse struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Stock     int    `json:"stock"`
}

type inventoryResponse struct {
	ProductID string              `json:"productId"`
	Sizes     []inventorySizeItem `json:"sizes"`
}

type inventorySizeItem struct {
	Size      string    `json:"size"`
	Stock     int       `json:"stock"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type decrementRequest struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Amount    int    `json:"amount"`
}

type patchSlotRequest struct {
	Name *string `json:"name"`
}

type patchResponse struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type orderResponse struct {
	ID                 string              `json:"id"`
	CustomerName       string              `json:"customerName"`
	CustomerEmail      string              `json:"customerEmail"`
	CustomerPhone      string              `json:"customerPhone,omitempty"`
	CustomerAddress    string              `json:"customerAddress,omitempty"`
	Notes              string              `json:"notes,omitempty"`
	NeedsShipping      bool                `json:"needsShipping"`
	ShippingCost       string              `json:"shippingCost"`
	Total              string              `json:"total"`
	Status             string              `json:"status"`
	InventoryProcessed bool                `json:"inventoryProcessed"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
	TakenAt            *time.Time          `json:"takenAt,omitempty"`
	DeliveredAt        *time.Time          `json:"deliveredAt,omitempty"`
	DeclinedAt         *time.Time          `json:"declinedAt,omitempty"`
	Items              []orderItemResponse `json:"items,omitempty"`
}

type orderItemResponse struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"productId"`
	ProductCode  string          `json:"productCode,omitempty"`
	ProductName  string          `json:"productName,omitempty"`
	Quantity     int             `json:"quantity"`
	Size         string          `json:"size,omitempty"`
	CustomName   string          `json:"customName,omitempty"`
	CustomNumber string          `json:"customNumber,omitempty"`
	Patches      [2]*string      `json:"patches"`
	PatchDetails []patchResponse `json:"patchDetails,omitempty"`
	UnitPrice    string          `json:"unitPrice"`
	Subtotal     string          `json:"subtotal"`
	Category     string          `json:"category"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// --- Handlers ---

// PlaceOrder handles POST /api/orders.
func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}

	ctx := r.Context()
	if h.placeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.placeTimeout)
		defer cancel()
	}

	order, err := h.orders.PlaceOrder(ctx, req.toDomain())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, placeOrderResponse{OrderID: order.ID, Total: order.Total.String()})
}

// GetStock handles GET /api/stock/{productId}/{size}.
func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	productID, size := chi.URLParam(r, "productId"), chi.URLParam(r, "size")
	stock, err := h.inventory.Stock(r.Context(), productID, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{ProductID: productID, Size: size, Stock: stock})
}

func (h *HTTPHandler) ListPatches(w http.ResponseWriter, r *http.Request) {
	patches, err := h.inventory.ListPatches(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]patchResponse, 0, len(patches))
	for _, p := range patches {
		resp = append(resp, toPatchResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListOrders handles GET /api/admin/orders?status=&limit=&offset=.
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrderFilter{Status: domain.OrderStatus(q.Get("status"))}
	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a number", Field: "limit"})
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "offset must be a number", Field: "offset"})
			return
		}
	}

	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := orderListResponse{Orders: make([]orderResponse, 0, len(orders)), Limit: filter.Limit, Offset: filter.Offset}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := toOrderResponse(view.Order)
	resp.Items = resp.Items[:0]
	for _, iv := range view.Items {
		item := toOrderItemResponse(iv.OrderItem)
		for _, p := range iv.PatchDetails {
			item.PatchDetails = append(item.PatchDetails, toPatchResponse(p))
		}
		resp.Items = append(resp.Items, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) orderAction(action func(ctx context.Context, orderID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeActionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Success: true})
	}
}

// SetPatchSlot handles PUT /api/admin/order-items/{itemId}/patches/{slot}.
// A null name clears the slot.
func (h *HTTPHandler) SetPatchSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, actionResponse{Message: "slot must be a number"})
		return
	}
	var req patchSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, actionResponse{Message: "invalid request body"})
		return
	}

	if err := h.lifecycle.SetPatchSlot(r.Context(), chi.URLParam(r, "itemId"), slot, req.Name); err != nil {
		writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true})
}

func (h *HTTPHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	var req decrementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	applied, err := h.inventory.Decrement(r.Context(), req.ProductID, req.Size, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (h *HTTPHandler) ListStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	units, err := h.inventory.ListStock(r.Context(), productID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := inventoryResponse{ProductID: productID, Sizes: make([]inventorySizeItem, 0, len(units))}
	for _, u := range units {
		resp.Sizes = append(resp.Sizes, inventorySizeItem{Size: u.Size, Stock: u.Stock, Version: u.Version, UpdatedAt: u.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) RealizedRevenue(w http.ResponseWriter, r *http.Request) {
	revenue, err := h.inventory.RealizedRevenue(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"revenue": revenue.String()})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateRequest), errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrOrderItemNotFound),
		errors.Is(err, domain.ErrStockUnitNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		zlog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}

	resp := errorResponse{Error: err.Error()}
	var vErr *domain.ValidationError
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &vErr):
		resp.Field = vErr.Field
	case errors.As(err, &stockErr):
		resp.Line = &stockErr.Line
		resp.ProductID = stockErr.ProductID
		resp.Size = stockErr.Size
		resp.Requested = stockErr.Requested
		resp.Available = &stockErr.Available
	}
	writeJSON(w, status, resp)
}

func writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		zlog.Ctx(r.Context()).Error().Err(err).Msg("order action failed")
		message = "internal error"
	}
	writeJSON(w, status, actionResponse{Success: false, Message: message})
}

func toPatchResponse(p domain.Patch) patchResponse {
	return patchResponse{ID: p.ID, Name: p.Name, Price: p.Price.StringFixed(2), ImageURL: p.ImageURL}
}

func toOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:                 o.ID,
		CustomerName:       o.Customer.Name,
		CustomerEmail:      o.Customer.Email,
		CustomerPhone:      o.Customer.Phone,
		CustomerAddress:    o.Customer.Address,
		Notes:              o.Customer.Notes,
		NeedsShipping:      o.Customer.NeedsShipping,
		ShippingCost:       o.ShippingCost.StringFixed(2),
		Total:              o.Total.StringFixed(2),
		Status:             string(o.Status),
		InventoryProcessed: o.InventoryProcessed,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
		TakenAt:            o.TakenAt,
		DeliveredAt:        o.DeliveredAt,
		DeclinedAt:         o.DeclinedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, toOrderItemResponse(item))
	}
	return resp
}

func toOrderItemResponse(item domain.OrderItem) orderItemResponse {
	resp := orderItemResponse{
		ID:           item.ID,
		ProductID:    item.ProductID,
		ProductCode:  item.ProductCode,
		ProductName:  item.ProductName,
		Quantity:     item.Quantity,
		Size:         item.Size,
		CustomName:   item.CustomName,
		CustomNumber: item.CustomNumber,
		UnitPrice:    item.UnitPrice.StringFixed(2),
		Subtotal:     item.Subtotal.StringFixed(2),
		Category:     string(item.Category),
	}
	for i, name := range item.Patches {
		if name != "" {
			name := name
			resp.Patches[i] = &name
		}
	}
	return resp
}
