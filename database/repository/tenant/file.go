package tenantRepo

import (
	"encoding/json"
	"fmt"
	"os"

	"tablebook/models"
)

// LoadTenantsFile reads a JSON array of tenants. Every tenant must have an id and a loadable timezone.
func LoadTenantsFile(path, fallbackTZ string) ([]models.Tenant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	var tenants []models.Tenant
	if err := json.Unmarshal(data, &tenants); err != nil {
		return nil, fmt.Errorf("decode tenants file %s: %w", path, err)
	}
	for i := range tenants {
		if tenants[i].ID == "" {
			return nil, fmt.Errorf("tenants file %s: entry %d has no id", path, i)
		}
		probe := tenants[i]
		if err := probe.Resolve(fallbackTZ); err != nil {
			return nil, err
		}
	}
	return tenants, nil
}
