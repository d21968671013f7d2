// Package audience resolves compiled segment predicates against the
// customer store.
package audience

import (
	"context"
	"fmt"
	"time"

	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
	"github.com/unclebandit/smsleopard-segments/internal/segment"
)

// SampleSize bounds the customers returned with a preview.
const SampleSize = 5

type Preview struct {
	Count  int              `json:"audienceSize"`
	Sample []model.Customer `json:"sampleCustomers"`
}

type Audience struct {
	Count     int
	Customers []model.Customer
}

// Resolver only reads; it never touches campaign state.
type Resolver struct {
	Customers repository.CustomerRepositoryInterface
	Now       func() time.Time
}

func NewResolver(customers repository.CustomerRepositoryInterface) *Resolver {
	return &Resolver{Customers: customers, Now: time.Now}
}

// Preview counts the matching customers and returns a small sample.
func (r *Resolver) Preview(ctx context.Context, p segment.Predicate) (Preview, error) {
	now := r.Now()
	count, err := r.Customers.CountMatching(ctx, p, now)
	if err != nil {
		return Preview{}, fmt.Errorf("count audience: %w", err)
	}
	sample, err := r.Customers.FindMatching(ctx, p, now, SampleSize)
	if err != nil {
		return Preview{}, fmt.Errorf("sample audience: %w", err)
	}
	return Preview{Count: count, Sample: sample}, nil
}

// Resolve returns the full matching set. The count is taken from the set
// itself so it always agrees with the recipients dispatched.
func (r *Resolver) Resolve(ctx context.Context, p segment.Predicate) (Audience, error) {
	customers, err := r.Customers.FindMatching(ctx, p, r.Now(), 0)
	if err != nil {
		return Audience{}, fmt.Errorf("resolve audience: %w", err)
	}
	return Audience{Count: len(customers), Customers: customers}, nil
}
