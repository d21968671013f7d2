package audience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
	"github.com/unclebandit/smsleopard-segments/internal/segment"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func customers() []model.Customer {
	var out []model.Customer
	for i := 1; i <= 8; i++ {
		out = append(out, model.Customer{
			ID:             int64(i),
			Name:           "c",
			Spend:          float64(i * 2000),
			VisitCount:     i,
			LastActivityAt: now.AddDate(0, 0, -i*20),
		})
	}
	return out
}

func newResolver(store *repository.MemoryStore) *Resolver {
	r := NewResolver(store.Customers())
	r.Now = func() time.Time { return now }
	return r
}

func TestPreviewBoundsSample(t *testing.T) {
	r := newResolver(repository.NewMemoryStore(customers()...))
	p := segment.Compile(segment.Leaf{Field: segment.FieldSpend, Operator: segment.OpGT, Value: 2000})

	preview, err := r.Preview(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 7, preview.Count)
	require.Len(t, preview.Sample, SampleSize)
	assert.Equal(t, int64(2), preview.Sample[0].ID)
}

func TestResolveReturnsFullSet(t *testing.T) {
	r := newResolver(repository.NewMemoryStore(customers()...))
	p := segment.Compile(segment.Composite{
		Operator: segment.OpAnd,
		Conditions: []segment.Rule{
			segment.Leaf{Field: segment.FieldVisitCount, Operator: segment.OpGT, Value: 2},
			segment.Leaf{Field: segment.FieldRecency, Operator: segment.OpAfter, Value: 130},
		},
	})

	got, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)

	var ids []int64
	for _, c := range got.Customers {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]int64{3, 4, 5, 6}, ids); diff != "" {
		t.Errorf("resolved ids mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, got.Count)
}

func TestEmptyPredicateResolvesNobody(t *testing.T) {
	r := newResolver(repository.NewMemoryStore(customers()...))

	got, err := r.Resolve(context.Background(), segment.Nothing())
	require.NoError(t, err)
	assert.Zero(t, got.Count)
	assert.Empty(t, got.Customers)
}

type brokenCustomers struct{ repository.CustomerRepositoryInterface }

var errDown = errors.New("connection refused")

func (brokenCustomers) CountMatching(context.Context, segment.Predicate, time.Time) (int, error) {
	return 0, errDown
}

func (brokenCustomers) FindMatching(context.Context, segment.Predicate, time.Time, int) ([]model.Customer, error) {
	return nil, errDown
}

func TestStoreErrorsPropagate(t *testing.T) {
	r := &Resolver{Customers: brokenCustomers{}, Now: time.Now}
	p := segment.Compile(segment.Leaf{Field: segment.FieldSpend, Operator: segment.OpGT, Value: 1})

	_, err := r.Preview(context.Background(), p)
	assert.ErrorIs(t, err, errDown)

	a, err := r.Resolve(context.Background(), p)
	assert.ErrorIs(t, err, errDown)
	assert.Nil(t, a.Customers)
}
