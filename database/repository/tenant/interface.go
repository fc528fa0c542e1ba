package tenantRepo

import (
	"context"
	"errors"

	"tablebook/models"
)

var ErrTenantNotFound = errors.New("tenant not found")

// TenantRepository reads tenant configuration. Returned tenants are already resolved.
type TenantRepository interface {
	FindByID(ctx context.Context, id string) (*models.Tenant, error)
}
