package repository

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/unclebandit/smsleopard-segments/internal/model"
)

// LoadCustomers reads a JSON array of customers, as written by the API's
// customer listing.
func LoadCustomers(path string) ([]model.Customer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var customers []model.Customer
	if err := json.Unmarshal(data, &customers); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return customers, nil
}
