// internal/controller/customer_controller.go
package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-segments/internal/handler"
	"github.com/unclebandit/smsleopard-segments/internal/service"
)

// CustomerController serves customer and order ingestion.
type CustomerController struct {
	CustomerService *service.CustomerService
	Logger          *zap.Logger
}

func (c *CustomerController) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var body service.CustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	customer, err := c.CustomerService.CreateCustomer(r.Context(), body)
	if err != nil {
		handler.WriteError(w, c.Logger, err, "Failed to create customer")
		return
	}
	handler.WriteJSON(w, http.StatusCreated, map[string]any{
		"message":  "Customer created successfully",
		"customer": customer,
	})
}

func (c *CustomerController) CreateCustomers(w http.ResponseWriter, r *http.Request) {
	var body []service.CustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "expected an array of customers")
		return
	}

	customers, err := c.CustomerService.CreateCustomers(r.Context(), body)
	if err != nil {
		handler.WriteError(w, c.Logger, err, "Failed to create customers")
		return
	}
	handler.WriteJSON(w, http.StatusCreated, map[string]any{
		"message":   fmt.Sprintf("%d customers created successfully", len(customers)),
		"customers": customers,
	})
}

func (c *CustomerController) ListCustomers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	customers, pagination, err := c.CustomerService.ListCustomers(r.Context(), page, pageSize, r.URL.Query().Get("search"))
	if err != nil {
		handler.WriteError(w, c.Logger, err, "Failed to fetch customers")
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       customers,
		"pagination": pagination,
	})
}

func (c *CustomerController) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "invalid customer id")
		return
	}

	details, err := c.CustomerService.GetCustomer(r.Context(), id)
	if err != nil {
		handler.WriteError(w, c.Logger, err, "Failed to fetch customer")
		return
	}
	handler.WriteJSON(w, http.StatusOK, details)
}

func (c *CustomerController) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body service.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	order, err := c.CustomerService.RecordOrder(r.Context(), body)
	if err != nil {
		handler.WriteError(w, c.Logger, err, "Failed to create order")
		return
	}
	handler.WriteJSON(w, http.StatusCreated, map[string]any{
		"message": "Order created successfully",
		"order":   order,
	})
}

func (c *CustomerController) CreateOrders(w http.ResponseWriter, r *http.Request) {
	var body []service.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "expected an array of orders")
		return
	}

	res, err := c.CustomerService.RecordOrders(r.Context(), body)
	if err != nil {
		handler.WriteError(w, c.Logger, err, "Failed to create orders")
		return
	}
	handler.WriteJSON(w, http.StatusCreated, map[string]any{
		"message": fmt.Sprintf("%d orders created successfully", len(res.Orders)),
		"orders":  res.Orders,
		"skipped": res.Skipped,
	})
}
