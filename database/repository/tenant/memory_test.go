package tenantRepo

import (
	"context"
	"testing"

	"tablebook/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTenantRepo_ResolvesDefaults(t *testing.T) {
	repo := NewMemoryTenantRepo("Europe/Rome", models.Tenant{ID: "t1", Name: "Trattoria"})

	tenant, err := repo.FindByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, tenant.Resolved())
	assert.Equal(t, models.DefaultCapacity, tenant.Settings.Capacity)
	assert.Equal(t, "Europe/Rome", tenant.Settings.Timezone)

	_, err = repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}
