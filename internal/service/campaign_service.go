// internal/service/campaign_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-segments/internal/audience"
	"github.com/unclebandit/smsleopard-segments/internal/dispatch"
	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/queue"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
	"github.com/unclebandit/smsleopard-segments/internal/segment"
)

// DetailLogLimit caps the delivery logs returned with campaign details.
const DetailLogLimit = 100

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	CustomerRepo repository.CustomerRepositoryInterface
	LogRepo      repository.DeliveryLogRepositoryInterface
	Resolver     *audience.Resolver
	Queue        queue.Queue
	Logger       *zap.Logger
}

func NewCampaignService(store Store, q queue.Queue, logger *zap.Logger) *CampaignService {
	return &CampaignService{
		CampaignRepo: store.Campaigns(),
		CustomerRepo: store.Customers(),
		LogRepo:      store.Logs(),
		Resolver:     audience.NewResolver(store.Customers()),
		Queue:        q,
		Logger:       logger,
	}
}

// Store groups the repositories a campaign service is built from.
type Store interface {
	Customers() repository.CustomerRepositoryInterface
	Campaigns() repository.CampaignRepositoryInterface
	Logs() repository.DeliveryLogRepositoryInterface
}

// LaunchRequest is the body of a campaign launch. AudienceSize is accepted
// for compatibility with older clients and ignored.
type LaunchRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Rules        json.RawMessage `json:"rules"`
	Message      string          `json:"message"`
	Tags         []string        `json:"tags"`
	AIGenerated  bool            `json:"aiGenerated"`
	AudienceSize int             `json:"audienceSize,omitempty"`
}

type AudiencePreview struct {
	audience.Preview
	Description string `json:"description"`
}

type CampaignDetails struct {
	model.Campaign
	Logs []model.DeliveryLog `json:"logs"`
}

// PreviewAudience compiles the rule and reports who it would select now.
// Malformed conditions inside the rule select nobody instead of failing.
func (s *CampaignService) PreviewAudience(ctx context.Context, raw json.RawMessage) (*AudiencePreview, error) {
	rule, err := segment.Parse(raw)
	if err != nil {
		return nil, err
	}
	preview, err := s.Resolver.Preview(ctx, segment.Compile(rule))
	if err != nil {
		return nil, err
	}
	return &AudiencePreview{Preview: preview, Description: rule.Describe()}, nil
}

// LaunchCampaign resolves the audience, stores the campaign as active
// and hands it to the dispatch pipeline through the queue. It returns
// without waiting for any message to be sent.
func (s *CampaignService) LaunchCampaign(ctx context.Context, req LaunchRequest) (*model.Campaign, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", appErrors.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", appErrors.ErrInvalidInput)
	}
	if len(req.Rules) == 0 {
		return nil, fmt.Errorf("%w: rules are required", appErrors.ErrInvalidRule)
	}

	rule, err := segment.Parse(req.Rules)
	if err != nil {
		return nil, err
	}
	if inv, ok := rule.(segment.Invalid); ok {
		return nil, fmt.Errorf("%w: %s", appErrors.ErrInvalidRule, inv.Reason)
	}

	aud, err := s.Resolver.Resolve(ctx, segment.Compile(rule))
	if err != nil {
		return nil, err
	}
	if aud.Count == 0 {
		return nil, appErrors.ErrNoMatchingAudience
	}
	if req.AudienceSize != 0 && req.AudienceSize != aud.Count {
		s.Logger.Warn("ignoring client audience size",
			zap.Int("client", req.AudienceSize), zap.Int("resolved", aud.Count))
	}

	snapshot, err := json.Marshal(rule)
	if err != nil {
		return nil, fmt.Errorf("snapshot rule: %w", err)
	}

	c := &model.Campaign{
		Name:         name,
		Description:  req.Description,
		Template:     req.Message,
		Rule:         snapshot,
		AudienceSize: aud.Count,
		Status:       model.CampaignActive,
		Tags:         req.Tags,
		AIGenerated:  req.AIGenerated,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	body, err := json.Marshal(dispatch.Job{Campaign: *c, Audience: aud.Customers})
	if err == nil {
		err = s.Queue.Publish(ctx, queue.TopicCampaignDispatch, body)
	}
	if err != nil {
		s.Logger.Error("failed to enqueue campaign dispatch", zap.Int64("campaign_id", c.ID), zap.Error(err))
		if merr := s.CampaignRepo.MarkFailed(ctx, c.ID, time.Now()); merr != nil {
			err = errors.Join(err, merr)
		}
		return nil, fmt.Errorf("enqueue campaign %d: %w", c.ID, err)
	}

	s.Logger.Info("campaign launched",
		zap.Int64("campaign_id", c.ID), zap.Int("audience_size", c.AudienceSize), zap.String("rule", rule.Describe()))
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
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

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetails returns the campaign with its most recent delivery logs.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, id int64) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.LogRepo.ListByCampaign(ctx, id, DetailLogLimit)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	return &CampaignDetails{Campaign: *campaign, Logs: logs}, nil
}
