// internal/service/template_service.go
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/unclebandit/smsleopard-segments/internal/dispatch"
	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
)

// RenderPreview renders template for one customer exactly as the
// dispatch pipeline would.
func (s *CampaignService) RenderPreview(ctx context.Context, template string, customerID int64) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("%w: template cannot be empty", appErrors.ErrInvalidInput)
	}

	customer, err := s.CustomerRepo.GetByID(ctx, customerID)
	if err != nil {
		return "", err
	}
	if customer == nil {
		return "", appErrors.NewCustomerNotFound(customerID)
	}
	return dispatch.Render(template, customer.Name), nil
}
