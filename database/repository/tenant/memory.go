package tenantRepo

import (
	"context"
	"sync"

	"tablebook/models"
)

type MemoryTenantRepo struct {
	mu         sync.RWMutex
	tenants    map[string]models.Tenant
	fallbackTZ string
}

func NewMemoryTenantRepo(fallbackTZ string, tenants ...models.Tenant) *MemoryTenantRepo {
	r := &MemoryTenantRepo{tenants: make(map[string]models.Tenant), fallbackTZ: fallbackTZ}
	for _, t := range tenants {
		r.tenants[t.ID] = t
	}
	return r
}

func (r *MemoryTenantRepo) Upsert(_ context.Context, tenant *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenant.ID] = *tenant
	return nil
}

func (r *MemoryTenantRepo) FindByID(_ context.Context, id string) (*models.Tenant, error) {
	r.mu.RLock()
	t, ok := r.tenants[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrTenantNotFound
	}
	if err := t.Resolve(r.fallbackTZ); err != nil {
		return nil, err
	}
	return &t, nil
}
