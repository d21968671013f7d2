package repository

import "database/sql"

// PostgresStore exposes the Postgres repositories over one connection pool.
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) Customers() CustomerRepositoryInterface {
	return &CustomerRepository{DB: s.DB}
}

func (s *PostgresStore) Campaigns() CampaignRepositoryInterface {
	return &CampaignRepository{DB: s.DB}
}

func (s *PostgresStore) Logs() DeliveryLogRepositoryInterface {
	return &DeliveryLogRepository{DB: s.DB}
}

func (s *PostgresStore) Orders() OrderRepositoryInterface {
	return &OrderRepository{DB: s.DB}
}
