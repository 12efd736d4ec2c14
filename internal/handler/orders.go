package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/dawaa-market/api/internal/database"
	"github.com/dawaa-market/api/internal/enum"
	"github.com/dawaa-market/api/internal/middleware"
	"github.com/dawaa-market/api/internal/service"
	"github.com/dawaa-market/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// OrderStore defines the database methods needed by order handlers.
type OrderStore interface {
	GetShop(ctx context.Context, id uuid.UUID) (database.Shop, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	MarkOrderDelivered(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListCashCollectionsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.CashCollection, error)
}

// OrderCreator runs checkout. Satisfied by *service.OrderService.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
}

// CashCollector records cash handed over by couriers.
// Satisfied by *service.SettlementService.
type CashCollector interface {
	MarkCashCollected(ctx context.Context, req service.MarkCashCollectedRequest) (*service.MarkCashCollectedResult, error)
}

// OrderBroadcaster pushes order events to the company's realtime feed.
// Satisfied by *ws.Hub.
type OrderBroadcaster interface {
	BroadcastToCompany(companyID uuid.UUID, event ws.Event)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	store   OrderStore
	creator OrderCreator
	cash    CashCollector
	hub     OrderBroadcaster
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(store OrderStore, creator OrderCreator, cash CashCollector, hub OrderBroadcaster) *OrderHandler {
	return &OrderHandler{store: store, creator: creator, cash: cash, hub: hub}
}

// RegisterRoutes registers order endpoints. Expected to be mounted at
// /orders behind Authenticate.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/status", h.UpdateStatus)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/cash-collected", h.CashCollected)
	r.Get("/{id}/cash-collections", h.CashCollections)
}

// The forward path. CANCELLED is reachable from any non-terminal status
// and is handled separately.
var orderTransitions = map[string]string{
	enum.OrderStatusPending:    enum.OrderStatusConfirmed,
	enum.OrderStatusConfirmed:  enum.OrderStatusProcessing,
	enum.OrderStatusProcessing: enum.OrderStatusShipped,
	enum.OrderStatusShipped:    enum.OrderStatusDelivered,
}

// --- Request / Response types ---

type createOrderRequest struct {
	ShopID        string                   `json:"shop_id"`
	PaymentMethod string                   `json:"payment_method"`
	Items         []createOrderItemRequest `json:"items"`
}

type createOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type cashCollectedRequest struct {
	Amount string `json:"amount"`
}

type cashCollectionResponse struct {
	ID          uuid.UUID `json:"id"`
	Amount      string    `json:"amount"`
	CollectedBy uuid.UUID `json:"collected_by"`
	CollectedAt time.Time `json:"collected_at"`
}

type orderItemResponse struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int32     `json:"quantity"`
	UnitPrice string    `json:"unit_price"`
	Subtotal  string    `json:"subtotal"`
}

type appliedPromotionResponse struct {
	PromotionID uuid.UUID `json:"promotion_id"`
	Name        string    `json:"name"`
	Discount    string    `json:"discount"`
}

type orderResponse struct {
	ID             uuid.UUID           `json:"id"`
	ShopID         uuid.UUID           `json:"shop_id"`
	CompanyID      uuid.UUID           `json:"company_id"`
	Zone           string              `json:"zone"`
	Status         string              `json:"status"`
	PaymentMethod  string              `json:"payment_method"`
	Subtotal       string              `json:"subtotal"`
	DiscountAmount string              `json:"discount_amount"`
	DeliveryFee    string              `json:"delivery_fee"`
	TotalAmount    string              `json:"total_amount"`
	DeliveredAt    *time.Time          `json:"delivered_at,omitempty"`
	CreatedBy      uuid.UUID           `json:"created_by"`
	CreatedAt      time.Time           `json:"created_at"`
	Items          []orderItemResponse `json:"items,omitempty"`

	AppliedPromotions []appliedPromotionResponse `json:"applied_promotions,omitempty"`
}

// --- Handlers ---

// Create handles POST /orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	shopID, err := uuid.Parse(req.ShopID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}

	shop, err := h.store.GetShop(r.Context(), shopID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "shop not found"})
			return
		}
		log.Printf("ERROR: get shop: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if !claims.InZone(shop.Zone) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "zone not permitted"})
		return
	}

	svcReq := service.CreateOrderRequest{
		ShopID:        shopID,
		PaymentMethod: req.PaymentMethod,
		CreatedBy:     claims.UserID,
	}
	for _, item := range req.Items {
		svcReq.Items = append(svcReq.Items, service.CreateOrderItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	result, err := h.creator.CreateOrder(r.Context(), svcReq)
	if err != nil {
		h.respondOrderError(w, err)
		return
	}

	resp := dbOrderToResponse(result.Order)
	for _, item := range result.Items {
		resp.Items = append(resp.Items, dbOrderItemToResponse(item))
	}
	for _, applied := range result.Applied {
		resp.AppliedPromotions = append(resp.AppliedPromotions, appliedPromotionResponse{
			PromotionID: applied.PromotionID,
			Name:        applied.Name,
			Discount:    applied.Discount.StringFixed(2),
		})
	}

	h.broadcast(result.Order.CompanyID, "order_created", resp)
	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /orders with optional company_id, shop_id and status
// filters. Non-admin callers are pinned to their own company.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	params := database.ListOrdersParams{Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			params.Limit = int32(n)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			params.Offset = int32(n)
		}
	}
	if v := r.URL.Query().Get("status"); v != "" {
		params.Status = pgtype.Text{String: v, Valid: true}
	}
	if v := r.URL.Query().Get("shop_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop_id"})
			return
		}
		params.ShopID = pgtype.UUID{Bytes: id, Valid: true}
	}

	if claims.Role == enum.UserRoleAdmin {
		if v := r.URL.Query().Get("company_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company_id"})
				return
			}
			params.CompanyID = pgtype.UUID{Bytes: id, Valid: true}
		}
	} else {
		params.CompanyID = pgtype.UUID{Bytes: claims.CompanyID, Valid: true}
	}

	orders, err := h.store.ListOrders(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: list orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = dbOrderToResponse(o)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadAuthorizedOrder(w, r)
	if !ok {
		return
	}

	items, err := h.store.ListOrderItemsByOrder(r.Context(), order.ID)
	if err != nil {
		log.Printf("ERROR: list order items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := dbOrderToResponse(order)
	for _, item := range items {
		resp.Items = append(resp.Items, dbOrderItemToResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateStatus handles PUT /orders/{id}/status. Orders move strictly
// forward; DELIVERED and CANCELLED are terminal.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadAuthorizedOrder(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}

	if order.Status == enum.OrderStatusDelivered || order.Status == enum.OrderStatusCancelled {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order is " + order.Status})
		return
	}

	allowed := req.Status == enum.OrderStatusCancelled || orderTransitions[order.Status] == req.Status
	if !allowed {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cannot move order from " + order.Status + " to " + req.Status})
		return
	}

	var (
		updated database.Order
		err     error
	)
	if req.Status == enum.OrderStatusDelivered {
		updated, err = h.store.MarkOrderDelivered(r.Context(), order.ID)
	} else {
		updated, err = h.store.UpdateOrderStatus(r.Context(), database.UpdateOrderStatusParams{
			ID:     order.ID,
			Status: req.Status,
		})
	}
	if err != nil {
		log.Printf("ERROR: update order status: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := dbOrderToResponse(updated)
	h.broadcast(updated.CompanyID, "order_status_changed", resp)
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles POST /orders/{id}/cancel. Any non-terminal order can be
// cancelled.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadAuthorizedOrder(w, r)
	if !ok {
		return
	}

	if order.Status == enum.OrderStatusDelivered || order.Status == enum.OrderStatusCancelled {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order is " + order.Status})
		return
	}

	updated, err := h.store.UpdateOrderStatus(r.Context(), database.UpdateOrderStatusParams{
		ID:     order.ID,
		Status: enum.OrderStatusCancelled,
	})
	if err != nil {
		log.Printf("ERROR: cancel order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := dbOrderToResponse(updated)
	h.broadcast(updated.CompanyID, "order_status_changed", resp)
	writeJSON(w, http.StatusOK, resp)
}

// CashCollected handles POST /orders/{id}/cash-collected. Partial
// collections accumulate until the order total is covered.
func (h *OrderHandler) CashCollected(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req cashCollectedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid amount"})
		return
	}

	result, err := h.cash.MarkCashCollected(r.Context(), service.MarkCashCollectedRequest{
		OrderID:     orderID,
		Amount:      amount,
		CollectedBy: claims.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
		case errors.Is(err, service.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, service.ErrOrderNotDelivered):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order is not delivered"})
		case errors.Is(err, service.ErrOrderNotCash):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order is not cash on delivery"})
		case errors.Is(err, service.ErrOrderFullyReconciled):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order is fully collected"})
		case errors.Is(err, service.ErrOverCollection):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "amount exceeds the outstanding balance"})
		default:
			log.Printf("ERROR: mark cash collected: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"order_id":     orderID,
		"amount":       numericToString(result.Collection.Amount),
		"collected_by": result.Collection.CollectedBy,
		"collected_at": result.Collection.CollectedAt,
		"expected":     result.Expected.StringFixed(2),
		"collected":    result.Collected.StringFixed(2),
	})
}

// CashCollections handles GET /orders/{id}/cash-collections, listing the
// collection events recorded against an order, oldest first.
func (h *OrderHandler) CashCollections(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadAuthorizedOrder(w, r)
	if !ok {
		return
	}

	collections, err := h.store.ListCashCollectionsByOrder(r.Context(), order.ID)
	if err != nil {
		log.Printf("ERROR: list cash collections: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]cashCollectionResponse, len(collections))
	for i, c := range collections {
		resp[i] = cashCollectionResponse{
			ID:          c.ID,
			Amount:      numericToString(c.Amount),
			CollectedBy: c.CollectedBy,
			CollectedAt: c.CollectedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// loadAuthorizedOrder fetches the order and enforces company and zone
// scope. It writes the error response itself and returns ok=false.
func (h *OrderHandler) loadAuthorizedOrder(w http.ResponseWriter, r *http.Request) (database.Order, bool) {
	claims := middleware.ClaimsFromContext(r.Context())

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return database.Order{}, false
	}

	order, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return database.Order{}, false
		}
		log.Printf("ERROR: get order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return database.Order{}, false
	}

	if claims.Role != enum.UserRoleAdmin && claims.CompanyID != order.CompanyID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return database.Order{}, false
	}
	if !claims.InZone(order.Zone) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "zone not permitted"})
		return database.Order{}, false
	}
	return order, true
}

func (h *OrderHandler) broadcast(companyID uuid.UUID, eventType string, payload interface{}) {
	if h.hub == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: marshal %s event: %v", eventType, err)
		return
	}
	h.hub.BroadcastToCompany(companyID, ws.Event{Type: eventType, Payload: data})
}

func (h *OrderHandler) respondOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyItems),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidProductID),
		errors.Is(err, service.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrShopNotFound),
		errors.Is(err, service.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrProductInactive),
		errors.Is(err, service.ErrMixedCompanies),
		errors.Is(err, service.ErrInsufficientStock):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: create order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func dbOrderToResponse(o database.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		ShopID:         o.ShopID,
		CompanyID:      o.CompanyID,
		Zone:           o.Zone,
		Status:         o.Status,
		PaymentMethod:  o.PaymentMethod,
		Subtotal:       numericToString(o.Subtotal),
		DiscountAmount: numericToString(o.DiscountAmount),
		DeliveryFee:    numericToString(o.DeliveryFee),
		TotalAmount:    numericToString(o.TotalAmount),
		CreatedBy:      o.CreatedBy,
		CreatedAt:      o.CreatedAt,
	}
	if o.DeliveredAt.Valid {
		t := o.DeliveredAt.Time
		resp.DeliveredAt = &t
	}
	return resp
}

func dbOrderItemToResponse(i database.OrderItem) orderItemResponse {
	return orderItemResponse{
		ID:        i.ID,
		ProductID: i.ProductID,
		Quantity:  i.Quantity,
		UnitPrice: numericToString(i.UnitPrice),
		Subtotal:  numericToString(i.Subtotal),
	}
}

// numericToString renders a DB numeric as a fixed two decimal string for
// the wire. Invalid numerics render as "0.00".
func numericToString(n pgtype.Numeric) string {
	d := numericToDecimal(n)
	return d.StringFixed(2)
}

// numericToDecimal converts a pgtype.Numeric into a decimal.Decimal.
func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

// decimalToNumeric converts a decimal.Decimal into a pgtype.Numeric.
func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	if err := n.Scan(d.StringFixed(2)); err != nil {
		log.Printf("ERROR: convert decimal %s to numeric: %v", d, err)
	}
	return n
}
