package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-segments/internal/controller"
	"github.com/unclebandit/smsleopard-segments/internal/handler"
	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/queue"
	"github.com/unclebandit/smsleopard-segments/internal/reconcile"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
	"github.com/unclebandit/smsleopard-segments/internal/service"
)

// --- Mock Queue ---

type MockQueue struct {
	published int
}

func (m *MockQueue) Publish(context.Context, string, []byte) error {
	m.published++
	return nil
}

func (m *MockQueue) Subscribe(string, queue.Handler) error { return nil }

func newRouter(t *testing.T) (http.Handler, *repository.MemoryStore, *MockQueue) {
	t.Helper()
	now := time.Now()
	store := repository.NewMemoryStore(
		model.Customer{ID: 1, Name: "Alice", Email: "alice@example.com", Spend: 20000, VisitCount: 9, LastActivityAt: now},
		model.Customer{ID: 2, Name: "Brian", Email: "brian@example.com", Spend: 300, VisitCount: 1, LastActivityAt: now.AddDate(0, -6, 0)},
	)
	q := &MockQueue{}
	logger := zap.NewNop()

	ctrl := &controller.CampaignController{
		CampaignService: service.NewCampaignService(store, q, logger),
		Logger:          logger,
	}
	delivery := &handler.DeliveryHandler{
		Receipts: reconcile.New(store.Logs(), store.Campaigns(), logger),
		Logger:   logger,
	}
	customers := &controller.CustomerController{
		CustomerService: service.NewCustomerService(store, logger),
		Logger:          logger,
	}
	return controller.NewRouter(ctrl, customers, delivery, &handler.HealthHandler{}), store, q
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- Test Functions ---

func TestPreviewAudience(t *testing.T) {
	h, _, _ := newRouter(t)

	w := do(t, h, http.MethodPost, "/campaigns/preview", `{"rules":{"field":"spend","operator":"gt","value":10000}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res struct {
		AudienceSize    int              `json:"audienceSize"`
		SampleCustomers []model.Customer `json:"sampleCustomers"`
		Description     string           `json:"description"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.AudienceSize != 1 || len(res.SampleCustomers) != 1 || res.SampleCustomers[0].Name != "Alice" {
		t.Errorf("unexpected preview %+v", res)
	}
	if res.Description != "spend > 10000" {
		t.Errorf("unexpected description %q", res.Description)
	}

	for _, body := range []string{`{}`, `{"rules":null}`, `{"rules":[1]}`, `{`} {
		if w := do(t, h, http.MethodPost, "/campaigns/preview", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestCreateCampaign(t *testing.T) {
	h, _, q := newRouter(t)

	w := do(t, h, http.MethodPost, "/campaigns", `{
		"name": "Big spenders",
		"rules": {"operator": "OR", "conditions": [{"field": "visitCount", "operator": "gt", "value": 5}]},
		"message": "Hi {name}!",
		"audienceSize": 40
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var res struct {
		Campaign model.Campaign `json:"campaign"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Campaign.AudienceSize != 1 {
		t.Errorf("expected resolved audience size 1, got %d", res.Campaign.AudienceSize)
	}
	if res.Campaign.Status != model.CampaignActive {
		t.Errorf("expected active campaign, got %s", res.Campaign.Status)
	}
	if q.published != 1 {
		t.Errorf("expected one dispatch job, got %d", q.published)
	}
}

func TestCreateCampaignWithoutAudience(t *testing.T) {
	h, store, q := newRouter(t)

	w := do(t, h, http.MethodPost, "/campaigns", `{"name":"none","message":"Hi","rules":{"field":"spend","operator":"gt","value":1e9}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "No customers match") && !strings.Contains(w.Body.String(), "no customers match") {
		t.Errorf("unexpected error body %s", w.Body.String())
	}
	if _, total, _ := store.Campaigns().ListCampaigns(context.Background(), 0, 10, ""); total != 0 {
		t.Errorf("expected no campaign to be stored, got %d", total)
	}
	if q.published != 0 {
		t.Errorf("expected nothing queued, got %d", q.published)
	}

	if w := do(t, h, http.MethodPost, "/campaigns", `{"rules":{"field":"spend","operator":"gt","value":1}}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing name, got %d", w.Code)
	}
}

func TestListCampaignsPagination(t *testing.T) {
	h, store, _ := newRouter(t)

	totalCampaigns := 25
	for i := 1; i <= totalCampaigns; i++ {
		c := &model.Campaign{Name: "Campaign " + strconv.Itoa(i), Template: "Hi", Status: model.CampaignActive}
		if err := store.Campaigns().Create(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Campaigns().MarkFailed(context.Background(), 1, time.Now()); err != nil {
		t.Fatal(err)
	}

	pageSize := 10
	seen := map[int64]bool{}
	active := totalCampaigns - 1
	totalPages := (active + pageSize - 1) / pageSize

	for page := 1; page <= totalPages; page++ {
		w := do(t, h, http.MethodGet,
			"/campaigns?page="+strconv.Itoa(page)+"&page_size="+strconv.Itoa(pageSize)+"&status=active", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}

		var res struct {
			Data       []model.Campaign `json:"data"`
			Pagination struct {
				Page       int `json:"page"`
				PageSize   int `json:"page_size"`
				TotalCount int `json:"total_count"`
			} `json:"pagination"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if res.Pagination.Page != page || res.Pagination.PageSize != pageSize {
			t.Errorf("unexpected pagination %+v", res.Pagination)
		}
		if res.Pagination.TotalCount != active {
			t.Errorf("expected total_count %d, got %d", active, res.Pagination.TotalCount)
		}

		for _, c := range res.Data {
			if seen[c.ID] {
				t.Errorf("campaign %d returned twice", c.ID)
			}
			if c.Status != model.CampaignActive {
				t.Errorf("campaign %d has status %s", c.ID, c.Status)
			}
			seen[c.ID] = true
		}
	}

	if len(seen) != active {
		t.Errorf("expected %d campaigns across pages, got %d", active, len(seen))
	}
}

func TestGetCampaignDetails(t *testing.T) {
	h, store, _ := newRouter(t)
	ctx := context.Background()

	c := &model.Campaign{Name: "Details", Template: "Hi", Status: model.CampaignActive, AudienceSize: 1}
	if err := store.Campaigns().Create(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := store.Logs().CreateBatch(ctx, []*model.DeliveryLog{{CampaignID: c.ID, CustomerID: 1, Message: "Hi Alice"}}); err != nil {
		t.Fatal(err)
	}

	w := do(t, h, http.MethodGet, "/campaigns/"+strconv.FormatInt(c.ID, 10), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res struct {
		Name string              `json:"name"`
		Logs []model.DeliveryLog `json:"logs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Name != "Details" || len(res.Logs) != 1 || res.Logs[0].Status != model.LogPending {
		t.Errorf("unexpected details %+v", res)
	}

	if w := do(t, h, http.MethodGet, "/campaigns/9999", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/campaigns/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPersonalizedPreviewHandler(t *testing.T) {
	h, _, _ := newRouter(t)

	w := do(t, h, http.MethodPost, "/campaigns/render-preview", `{"customer_id":1,"message":"Hi {name}, thanks!"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var res map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	msg, ok := res["rendered_message"].(string)
	if !ok {
		t.Fatalf("rendered_message not found or not a string")
	}
	if msg != "Hi Alice, thanks!" {
		t.Errorf("expected personalised message, got %q", msg)
	}

	if w := do(t, h, http.MethodPost, "/campaigns/render-preview", `{"customer_id":42,"message":"Hi"}`); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown customer, got %d", w.Code)
	}
}

func TestReceiptAndHealthRoutes(t *testing.T) {
	h, _, _ := newRouter(t)

	if w := do(t, h, http.MethodPost, "/delivery/receipt", `{"messageId":5,"status":"sent"}`); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown log, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
