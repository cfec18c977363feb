package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// GetTenantBindings returns the tenant's domain → provider overrides.
// Domains without a row are absent from the map.
func (s *Store) GetTenantBindings(ctx context.Context, tenantID string) (map[toolprovider.Domain]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT domain, provider FROM tenant_providers WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get bindings for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	out := make(map[toolprovider.Domain]string)
	for rows.Next() {
		var d toolprovider.Domain
		var provider string
		if err := rows.Scan(&d, &provider); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		out[d] = provider
	}
	return out, rows.Err()
}

func (s *Store) SetTenantBinding(ctx context.Context, tenantID string, domain toolprovider.Domain, provider string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenant_providers (tenant_id, domain, provider) VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, domain) DO UPDATE SET provider = EXCLUDED.provider, updated_at = now()`,
		tenantID, domain, provider)
	if err != nil {
		return fmt.Errorf("set binding %s/%s: %w", tenantID, domain, err)
	}
	return nil
}
