package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/segment"
)

type CustomerRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Customer, error)
	GetByEmail(ctx context.Context, email string) (*model.Customer, error)
	List(ctx context.Context, offset, limit int, search string) ([]model.Customer, int, error)
	CountMatching(ctx context.Context, p segment.Predicate, now time.Time) (int, error)
	// FindMatching returns matching customers ordered by id. limit <= 0 means no limit.
	FindMatching(ctx context.Context, p segment.Predicate, now time.Time, limit int) ([]model.Customer, error)

	// Create returns ErrDuplicateCustomer when the email is taken.
	Create(ctx context.Context, c *model.Customer) error
	// CreateBatch inserts the customers whose email is free and fills in
	// their IDs. Customers left with ID 0 were skipped as duplicates.
	CreateBatch(ctx context.Context, customers []*model.Customer) error
	// ApplyOrder adds one visit and amount to the customer's spend and moves
	// last activity forward to at.
	ApplyOrder(ctx context.Context, id int64, amount float64, at time.Time) error
}

// CustomerRepository is the concrete implementation
type CustomerRepository struct {
	DB *sql.DB
}

const customerColumns = `id, name, email, phone, total_spend, visit_count, last_activity_at, is_active, created_at`

func scanCustomer(row interface{ Scan(...any) error }, c *model.Customer) error {
	return row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Spend, &c.VisitCount, &c.LastActivityAt, &c.Active, &c.CreatedAt)
}

// GetByID fetches a customer by ID
func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	var c model.Customer
	if err := scanCustomer(r.DB.QueryRowContext(ctx, query, id), &c); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

// GetByEmail returns nil, nil when no customer has the email.
func (r *CustomerRepository) GetByEmail(ctx context.Context, email string) (*model.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE email = $1`

	var c model.Customer
	if err := scanCustomer(r.DB.QueryRowContext(ctx, query, email), &c); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// List returns the newest customers first. search matches name or email
// case-insensitively.
func (r *CustomerRepository) List(ctx context.Context, offset, limit int, search string) ([]model.Customer, int, error) {
	customers := []model.Customer{}
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR email ILIKE $%d)", argPos, argPos)
		args = append(args, "%"+search+"%")
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + customerColumns + ` FROM customers` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Customer
		if err := scanCustomer(rows, &c); err != nil {
			return nil, 0, err
		}
		customers = append(customers, c)
	}
	return customers, total, rows.Err()
}

func (r *CustomerRepository) Create(ctx context.Context, c *model.Customer) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = c.CreatedAt
	}
	query := `
        INSERT INTO customers (name, email, phone, total_spend, visit_count, last_activity_at, is_active, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query, c.Name, c.Email, c.Phone, c.Spend, c.VisitCount,
		c.LastActivityAt, c.Active, c.CreatedAt).Scan(&c.ID)
	if isUniqueViolation(err) {
		return appErrors.ErrDuplicateCustomer
	}
	return err
}

func (r *CustomerRepository) CreateBatch(ctx context.Context, customers []*model.Customer) error {
	if len(customers) == 0 {
		return nil
	}
	now := time.Now()

	byEmail := make(map[string]*model.Customer, len(customers))
	names := make([]string, len(customers))
	emails := make([]string, len(customers))
	phones := make([]string, len(customers))
	for i, c := range customers {
		c.ID = 0
		c.Active = true
		c.CreatedAt = now
		c.LastActivityAt = now
		if _, seen := byEmail[c.Email]; !seen {
			byEmail[c.Email] = c
		}
		names[i], emails[i], phones[i] = c.Name, c.Email, c.Phone
	}

	query := `
        INSERT INTO customers (name, email, phone, last_activity_at, created_at)
        SELECT t.name, t.email, t.phone, $4, $4
        FROM unnest($1::text[], $2::text[], $3::text[]) WITH ORDINALITY AS t(name, email, phone, n)
        ORDER BY t.n
        ON CONFLICT (email) DO NOTHING
        RETURNING id, email
    `
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(names), pq.Array(emails), pq.Array(phones), now)
	if err != nil {
		return fmt.Errorf("create customers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var email string
		if err := rows.Scan(&id, &email); err != nil {
			return err
		}
		if c, ok := byEmail[email]; ok {
			c.ID = id
		}
	}
	return rows.Err()
}

func (r *CustomerRepository) ApplyOrder(ctx context.Context, id int64, amount float64, at time.Time) error {
	query := `
        UPDATE customers
        SET total_spend = total_spend + $1,
            visit_count = visit_count + 1,
            last_activity_at = GREATEST(last_activity_at, $2)
        WHERE id = $3
    `
	res, err := r.DB.ExecContext(ctx, query, amount, at, id)
	if err != nil {
		return err
	}
	return requireRow(res, appErrors.NewCustomerNotFound(id))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (r *CustomerRepository) CountMatching(ctx context.Context, p segment.Predicate, now time.Time) (int, error) {
	if p.Empty() {
		return 0, nil
	}
	clause, args := p.Filter.SQL(now, 1)

	var count int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers WHERE `+clause, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count customers: %w", err)
	}
	return count, nil
}

func (r *CustomerRepository) FindMatching(ctx context.Context, p segment.Predicate, now time.Time, limit int) ([]model.Customer, error) {
	customers := []model.Customer{}
	if p.Empty() {
		return customers, nil
	}
	clause, args := p.Filter.SQL(now, 1)

	query := `SELECT ` + customerColumns + ` FROM customers WHERE ` + clause + ` ORDER BY id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Customer
		if err := scanCustomer(rows, &c); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

var _ CustomerRepositoryInterface = (*CustomerRepository)(nil)
