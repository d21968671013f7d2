package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
	"github.com/unclebandit/smsleopard-segments/internal/service"
)

// --- Mock Customer Repository ---

type MockCustomerRepo struct {
	repository.CustomerRepositoryInterface
	byEmail  map[string]*model.Customer
	lookups  int
	applied  []float64
	applyErr error
}

func (m *MockCustomerRepo) GetByEmail(_ context.Context, email string) (*model.Customer, error) {
	m.lookups++
	return m.byEmail[email], nil
}

func (m *MockCustomerRepo) ApplyOrder(_ context.Context, _ int64, amount float64, _ time.Time) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applied = append(m.applied, amount)
	return nil
}

// --- Mock Order Repository ---

type MockOrderRepo struct {
	repository.OrderRepositoryInterface
	created []model.Order
}

func (m *MockOrderRepo) Create(_ context.Context, o *model.Order) error {
	o.ID = int64(len(m.created) + 1)
	if o.OrderDate.IsZero() {
		o.OrderDate = time.Now()
	}
	m.created = append(m.created, *o)
	return nil
}

func newCustomerService() (*service.CustomerService, *MockCustomerRepo, *MockOrderRepo) {
	customers := &MockCustomerRepo{byEmail: map[string]*model.Customer{
		"wambui@example.com": {ID: 4, Name: "Wambui", Email: "wambui@example.com"},
	}}
	orders := &MockOrderRepo{}
	return &service.CustomerService{CustomerRepo: customers, OrderRepo: orders, Logger: zap.NewNop()}, customers, orders
}

func TestRecordOrderAppliesOnlyCompletedOrders(t *testing.T) {
	svc, customers, orders := newCustomerService()
	ctx := context.Background()

	o, err := svc.RecordOrder(ctx, service.OrderRequest{CustomerEmail: "Wambui@Example.com", Amount: 750})
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, o.Status)
	assert.Equal(t, int64(4), o.CustomerID)
	assert.Equal(t, "wambui@example.com", o.CustomerEmail)

	_, err = svc.RecordOrder(ctx, service.OrderRequest{CustomerEmail: "wambui@example.com", Amount: 90, Status: model.OrderPending})
	require.NoError(t, err)

	assert.Len(t, orders.created, 2)
	assert.Equal(t, []float64{750}, customers.applied)
}

func TestRecordOrderBackdated(t *testing.T) {
	svc, _, orders := newCustomerService()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := svc.RecordOrder(context.Background(), service.OrderRequest{CustomerEmail: "wambui@example.com", Amount: 10, OrderDate: &at})
	require.NoError(t, err)
	assert.Equal(t, at, orders.created[0].OrderDate)
}

func TestRecordOrderValidation(t *testing.T) {
	svc, _, orders := newCustomerService()

	tests := []struct {
		name string
		req  service.OrderRequest
	}{
		{"missing email", service.OrderRequest{Amount: 10}},
		{"bad email", service.OrderRequest{CustomerEmail: "wambui", Amount: 10}},
		{"zero amount", service.OrderRequest{CustomerEmail: "wambui@example.com"}},
		{"unknown status", service.OrderRequest{CustomerEmail: "wambui@example.com", Amount: 10, Status: "shipped"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RecordOrder(context.Background(), tc.req)
			assert.ErrorIs(t, err, appErrors.ErrInvalidInput)
		})
	}

	_, err := svc.RecordOrder(context.Background(), service.OrderRequest{CustomerEmail: "ghost@example.com", Amount: 10})
	assert.True(t, appErrors.IsNotFound(err))
	assert.Empty(t, orders.created)
}

func TestRecordOrderSurfacesCustomerUpdateFailure(t *testing.T) {
	svc, customers, _ := newCustomerService()
	customers.applyErr = errors.New("connection reset")

	_, err := svc.RecordOrder(context.Background(), service.OrderRequest{CustomerEmail: "wambui@example.com", Amount: 10})
	assert.ErrorContains(t, err, "connection reset")
}

func TestRecordOrdersLooksUpEachEmailOnce(t *testing.T) {
	svc, customers, orders := newCustomerService()

	res, err := svc.RecordOrders(context.Background(), []service.OrderRequest{
		{CustomerEmail: "wambui@example.com", Amount: 1},
		{CustomerEmail: "ghost@example.com", Amount: 2},
		{CustomerEmail: "wambui@example.com", Amount: 3},
		{CustomerEmail: "ghost@example.com", Amount: 4},
	})
	require.NoError(t, err)
	assert.Len(t, res.Orders, 2)
	assert.Equal(t, []string{"ghost@example.com", "ghost@example.com"}, res.Skipped)
	assert.Equal(t, 2, customers.lookups)
	assert.Equal(t, []float64{1, 3}, customers.applied)
	assert.Len(t, orders.created, 2)

	// One bad record rejects the whole request before anything is written.
	_, err = svc.RecordOrders(context.Background(), []service.OrderRequest{
		{CustomerEmail: "wambui@example.com", Amount: 1},
		{CustomerEmail: "wambui@example.com", Amount: 0},
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidInput)
	assert.Len(t, orders.created, 2)

	_, err = svc.RecordOrders(context.Background(), make([]service.OrderRequest, service.MaxBulkImport+1))
	assert.ErrorIs(t, err, appErrors.ErrInvalidInput)
}

func TestCreateCustomersSkipsTakenEmails(t *testing.T) {
	store := repository.NewMemoryStore(seedCustomers()...)
	svc := service.NewCustomerService(store, zap.NewNop())
	ctx := context.Background()

	created, err := svc.CreateCustomers(ctx, []service.CustomerRequest{
		{Name: "Faith", Email: "faith@example.com"},
		{Name: "Alice twin", Email: "ALICE@example.com"},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "Faith", created[0].Name)

	_, err = svc.CreateCustomers(ctx, []service.CustomerRequest{{Name: "", Email: "z@example.com"}})
	assert.ErrorIs(t, err, appErrors.ErrInvalidInput)
	_, err = svc.CreateCustomers(ctx, nil)
	assert.ErrorIs(t, err, appErrors.ErrInvalidInput)

	_, err = svc.CreateCustomer(ctx, service.CustomerRequest{Name: "Alice", Email: "alice@example.com"})
	assert.ErrorIs(t, err, appErrors.ErrDuplicateCustomer)

	details, err := svc.GetCustomer(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Empty(t, details.Orders)
	_, err = svc.GetCustomer(ctx, 999)
	assert.True(t, appErrors.IsNotFound(err))
}
