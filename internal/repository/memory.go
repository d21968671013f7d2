package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/segment"
)

// MemoryStore keeps customers, orders, campaigns and delivery logs in process.
// It backs the server when no database is configured and the tests.
// Every method copies records in and out so callers never share memory
// with the store.
type MemoryStore struct {
	mu        sync.Mutex
	customers map[int64]model.Customer
	orders    map[int64]model.Order
	campaigns map[int64]model.Campaign
	logs      map[int64]model.DeliveryLog
	nextID    int64
}

func NewMemoryStore(customers ...model.Customer) *MemoryStore {
	s := &MemoryStore{
		customers: make(map[int64]model.Customer),
		orders:    make(map[int64]model.Order),
		campaigns: make(map[int64]model.Campaign),
		logs:      make(map[int64]model.DeliveryLog),
	}
	for _, c := range customers {
		s.nextID = max(s.nextID, c.ID)
	}
	for _, c := range customers {
		if c.ID == 0 {
			c.ID = s.id()
		}
		s.customers[c.ID] = c
	}
	return s
}

// Customers is the customer view of the store.
func (s *MemoryStore) Customers() CustomerRepositoryInterface { return memoryCustomers{s} }

// Orders is the order view of the store.
func (s *MemoryStore) Orders() OrderRepositoryInterface { return memoryOrders{s} }

// Campaigns is the campaign view of the store.
func (s *MemoryStore) Campaigns() CampaignRepositoryInterface { return memoryCampaigns{s} }

// Logs is the delivery log view of the store.
func (s *MemoryStore) Logs() DeliveryLogRepositoryInterface { return memoryLogs{s} }

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

type memoryCustomers struct{ s *MemoryStore }

func (m memoryCustomers) GetByID(_ context.Context, id int64) (*model.Customer, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m memoryCustomers) GetByEmail(_ context.Context, email string) (*model.Customer, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, c := range m.s.customers {
		if c.Email == email {
			return &c, nil
		}
	}
	return nil, nil
}

func (m memoryCustomers) List(_ context.Context, offset, limit int, search string) ([]model.Customer, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	search = strings.ToLower(search)
	filtered := []model.Customer{}
	for _, c := range m.s.customers {
		if search != "" && !strings.Contains(strings.ToLower(c.Name), search) &&
			!strings.Contains(strings.ToLower(c.Email), search) {
			continue
		}
		filtered = append(filtered, c)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID > filtered[j].ID })

	total := len(filtered)
	if offset >= total {
		return []model.Customer{}, total, nil
	}
	return filtered[offset:min(offset+limit, total)], total, nil
}

func (m memoryCustomers) Create(_ context.Context, c *model.Customer) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.emailTaken(c.Email) {
		return appErrors.ErrDuplicateCustomer
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = c.CreatedAt
	}
	c.ID = m.s.id()
	m.s.customers[c.ID] = *c
	return nil
}

func (m memoryCustomers) CreateBatch(_ context.Context, customers []*model.Customer) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := time.Now()
	for _, c := range customers {
		c.ID = 0
		if m.emailTaken(c.Email) {
			continue
		}
		c.Active = true
		c.CreatedAt = now
		c.LastActivityAt = now
		c.ID = m.s.id()
		m.s.customers[c.ID] = *c
	}
	return nil
}

func (m memoryCustomers) ApplyOrder(_ context.Context, id int64, amount float64, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.customers[id]
	if !ok {
		return appErrors.NewCustomerNotFound(id)
	}
	c.Spend += amount
	c.VisitCount++
	if at.After(c.LastActivityAt) {
		c.LastActivityAt = at
	}
	m.s.customers[id] = c
	return nil
}

// emailTaken must be called with the store lock held.
func (m memoryCustomers) emailTaken(email string) bool {
	for _, c := range m.s.customers {
		if c.Email == email {
			return true
		}
	}
	return false
}

func (m memoryCustomers) CountMatching(ctx context.Context, p segment.Predicate, now time.Time) (int, error) {
	found, err := m.FindMatching(ctx, p, now, 0)
	return len(found), err
}

func (m memoryCustomers) FindMatching(_ context.Context, p segment.Predicate, now time.Time, limit int) ([]model.Customer, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	found := []model.Customer{}
	for _, c := range m.s.customers {
		if p.Match(c, now) {
			found = append(found, c)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

type memoryOrders struct{ s *MemoryStore }

func (m memoryOrders) Create(_ context.Context, o *model.Order) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.customers[o.CustomerID]; !ok {
		return fmt.Errorf("create order: %w", appErrors.NewCustomerNotFound(o.CustomerID))
	}
	o.CreatedAt = time.Now()
	if o.OrderDate.IsZero() {
		o.OrderDate = o.CreatedAt
	}
	o.ID = m.s.id()
	m.s.orders[o.ID] = *o
	return nil
}

func (m memoryOrders) ListByCustomer(_ context.Context, customerID int64, limit int) ([]model.Order, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	orders := []model.Order{}
	for _, o := range m.s.orders {
		if o.CustomerID == customerID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].OrderDate.Equal(orders[j].OrderDate) {
			return orders[i].OrderDate.After(orders[j].OrderDate)
		}
		return orders[i].ID > orders[j].ID
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

type memoryCampaigns struct{ s *MemoryStore }

func (m memoryCampaigns) Create(_ context.Context, c *model.Campaign) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.ID = m.s.id()
	m.s.campaigns[c.ID] = cloneCampaign(*c)
	return nil
}

func (m memoryCampaigns) GetByID(_ context.Context, id int64) (*model.Campaign, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	c = cloneCampaign(c)
	return &c, nil
}

func (m memoryCampaigns) ListCampaigns(_ context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var filtered []*model.Campaign
	for _, c := range m.s.campaigns {
		if status != "" && c.Status != status {
			continue
		}
		c = cloneCampaign(c)
		filtered = append(filtered, &c)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID > filtered[j].ID })

	total := len(filtered)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (m memoryCampaigns) SaveStats(_ context.Context, id int64, stats model.CampaignStats, complete bool, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Stats = stats
	if complete && c.Status == model.CampaignActive {
		c.Status = model.CampaignCompleted
		c.CompletedAt = &at
	}
	m.s.campaigns[id] = c
	return nil
}

func (m memoryCampaigns) MarkFailed(_ context.Context, id int64, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok || c.IsTerminal() {
		return nil
	}
	c.Status = model.CampaignFailed
	c.CompletedAt = &at
	m.s.campaigns[id] = c
	return nil
}

type memoryLogs struct{ s *MemoryStore }

func (m memoryLogs) CreateBatch(_ context.Context, logs []*model.DeliveryLog) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := time.Now()
	for _, l := range logs {
		if _, ok := m.s.campaigns[l.CampaignID]; !ok {
			return fmt.Errorf("create delivery logs: %w", appErrors.NewCampaignNotFound(l.CampaignID))
		}
	}
	for _, l := range logs {
		l.ID = m.s.id()
		l.Status = model.LogPending
		l.CreatedAt = now
		m.s.logs[l.ID] = *l
	}
	return nil
}

func (m memoryLogs) GetByID(_ context.Context, id int64) (*model.DeliveryLog, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	l, ok := m.s.logs[id]
	if !ok {
		return nil, appErrors.NewLogNotFound(id)
	}
	return &l, nil
}

func (m memoryLogs) Update(_ context.Context, l *model.DeliveryLog) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.logs[l.ID]; !ok {
		return appErrors.NewLogNotFound(l.ID)
	}
	m.s.logs[l.ID] = *l
	return nil
}

func (m memoryLogs) CountByStatus(_ context.Context, campaignID int64) (map[string]int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	counts := map[string]int{}
	for _, l := range m.s.logs {
		if l.CampaignID == campaignID {
			counts[l.Status]++
		}
	}
	return counts, nil
}

func (m memoryLogs) ListByCampaign(_ context.Context, campaignID int64, limit int) ([]model.DeliveryLog, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	logs := []model.DeliveryLog{}
	for _, l := range m.s.logs {
		if l.CampaignID == campaignID {
			logs = append(logs, l)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].ID > logs[j].ID })
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func cloneCampaign(c model.Campaign) model.Campaign {
	c.Tags = append([]string(nil), c.Tags...)
	c.Rule = append([]byte(nil), c.Rule...)
	if c.CompletedAt != nil {
		at := *c.CompletedAt
		c.CompletedAt = &at
	}
	return c
}
