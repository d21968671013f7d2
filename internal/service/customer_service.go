// internal/service/customer_service.go
package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
)

const (
	// MaxBulkImport caps the records accepted by one bulk request.
	MaxBulkImport = 1000
	// CustomerOrderLimit caps the orders returned with customer details.
	CustomerOrderLimit = 10
)

// CustomerStore groups the repositories customer ingestion writes to.
type CustomerStore interface {
	Customers() repository.CustomerRepositoryInterface
	Orders() repository.OrderRepositoryInterface
}

// CustomerService ingests customers and their orders. Orders keep the
// spend, visit and activity attributes that segment rules read current.
type CustomerService struct {
	CustomerRepo repository.CustomerRepositoryInterface
	OrderRepo    repository.OrderRepositoryInterface
	Logger       *zap.Logger
}

func NewCustomerService(store CustomerStore, logger *zap.Logger) *CustomerService {
	return &CustomerService{
		CustomerRepo: store.Customers(),
		OrderRepo:    store.Orders(),
		Logger:       logger,
	}
}

type CustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type OrderRequest struct {
	CustomerEmail string     `json:"customerEmail"`
	Amount        float64    `json:"amount"`
	Status        string     `json:"status"`
	OrderDate     *time.Time `json:"orderDate"`
}

type CustomerDetails struct {
	model.Customer
	Orders []model.Order `json:"orders"`
}

// BulkOrderResult lists the recorded orders and the emails that matched
// no customer.
type BulkOrderResult struct {
	Orders  []model.Order `json:"orders"`
	Skipped []string      `json:"skipped"`
}

func normalizeEmail(email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", fmt.Errorf("%w: email is required", appErrors.ErrInvalidInput)
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("%w: email %q is invalid", appErrors.ErrInvalidInput, email)
	}
	return strings.ToLower(parsed.Address), nil
}

func (req CustomerRequest) toCustomer() (*model.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", appErrors.ErrInvalidInput)
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	return &model.Customer{Name: name, Email: email, Phone: strings.TrimSpace(req.Phone), Active: true}, nil
}

func (s *CustomerService) CreateCustomer(ctx context.Context, req CustomerRequest) (*model.Customer, error) {
	c, err := req.toCustomer()
	if err != nil {
		return nil, err
	}
	if err := s.CustomerRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.Logger.Info("customer created", zap.Int64("customer_id", c.ID))
	return c, nil
}

// CreateCustomers validates every record before writing any. Records whose
// email already exists are skipped and left out of the result.
func (s *CustomerService) CreateCustomers(ctx context.Context, reqs []CustomerRequest) ([]model.Customer, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no customers given", appErrors.ErrInvalidInput)
	}
	if len(reqs) > MaxBulkImport {
		return nil, fmt.Errorf("%w: at most %d customers per request", appErrors.ErrInvalidInput, MaxBulkImport)
	}

	batch := make([]*model.Customer, len(reqs))
	for i, req := range reqs {
		c, err := req.toCustomer()
		if err != nil {
			return nil, fmt.Errorf("customer %d: %w", i, err)
		}
		batch[i] = c
	}
	if err := s.CustomerRepo.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	created := make([]model.Customer, 0, len(batch))
	for _, c := range batch {
		if c.ID != 0 {
			created = append(created, *c)
		}
	}
	s.Logger.Info("customers imported",
		zap.Int("created", len(created)), zap.Int("skipped", len(batch)-len(created)))
	return created, nil
}

func (s *CustomerService) ListCustomers(ctx context.Context, page, pageSize int, search string) ([]model.Customer, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	customers, total, err := s.CustomerRepo.List(ctx, offset, pageSize, strings.TrimSpace(search))
	if err != nil {
		return nil, nil, err
	}

	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
	return customers, pagination, nil
}

// GetCustomer returns the customer with their most recent orders.
func (s *CustomerService) GetCustomer(ctx context.Context, id int64) (*CustomerDetails, error) {
	c, err := s.CustomerRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, appErrors.NewCustomerNotFound(id)
	}
	orders, err := s.OrderRepo.ListByCustomer(ctx, id, CustomerOrderLimit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return &CustomerDetails{Customer: *c, Orders: orders}, nil
}

func (req OrderRequest) validate() (string, error) {
	email, err := normalizeEmail(req.CustomerEmail)
	if err != nil {
		return "", err
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", appErrors.ErrInvalidInput)
	}
	if req.Status != "" && !model.ValidOrderStatus(req.Status) {
		return "", fmt.Errorf("%w: unknown order status %q", appErrors.ErrInvalidInput, req.Status)
	}
	return email, nil
}

// RecordOrder stores an order for the customer with the given email. An
// order without a status counts as completed, and completed orders add to
// the customer's spend and visits.
func (s *CustomerService) RecordOrder(ctx context.Context, req OrderRequest) (*model.Order, error) {
	email, err := req.validate()
	if err != nil {
		return nil, err
	}
	customer, err := s.CustomerRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, appErrors.NewCustomerEmailNotFound(email)
	}
	return s.recordOrder(ctx, customer.ID, email, req)
}

// RecordOrders validates every order first, then records those whose
// email matches a customer. Unmatched emails are reported as skipped.
func (s *CustomerService) RecordOrders(ctx context.Context, reqs []OrderRequest) (*BulkOrderResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no orders given", appErrors.ErrInvalidInput)
	}
	if len(reqs) > MaxBulkImport {
		return nil, fmt.Errorf("%w: at most %d orders per request", appErrors.ErrInvalidInput, MaxBulkImport)
	}
	emails := make([]string, len(reqs))
	for i, req := range reqs {
		email, err := req.validate()
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		emails[i] = email
	}

	res := &BulkOrderResult{Orders: []model.Order{}, Skipped: []string{}}
	ids := map[string]int64{}
	for i, req := range reqs {
		id, known := ids[emails[i]]
		if !known {
			customer, err := s.CustomerRepo.GetByEmail(ctx, emails[i])
			if err != nil {
				return res, err
			}
			if customer != nil {
				id = customer.ID
			}
			ids[emails[i]] = id
		}
		if id == 0 {
			res.Skipped = append(res.Skipped, emails[i])
			continue
		}
		o, err := s.recordOrder(ctx, id, emails[i], req)
		if err != nil {
			return res, err
		}
		res.Orders = append(res.Orders, *o)
	}
	if len(res.Skipped) > 0 {
		s.Logger.Warn("orders skipped for unknown customers", zap.Int("skipped", len(res.Skipped)))
	}
	return res, nil
}

func (s *CustomerService) recordOrder(ctx context.Context, customerID int64, email string, req OrderRequest) (*model.Order, error) {
	o := &model.Order{
		CustomerID:    customerID,
		CustomerEmail: email,
		Amount:        req.Amount,
		Status:        req.Status,
	}
	if o.Status == "" {
		o.Status = model.OrderCompleted
	}
	if req.OrderDate != nil {
		o.OrderDate = *req.OrderDate
	}
	if err := s.OrderRepo.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if o.CountsTowardsCustomer() {
		if err := s.CustomerRepo.ApplyOrder(ctx, customerID, o.Amount, o.OrderDate); err != nil {
			return nil, fmt.Errorf("apply order %d to customer %d: %w", o.ID, customerID, err)
		}
	}
	return o, nil
}
