package ports

import (
	"context"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

// TenantRunner drains one tenant's queue.
type TenantRunner interface {
	RunTenant(ctx context.Context, tenant domain.Tenant) (domain.RunReport, error)
}

// TenantTrigger is the inbound contract for on-demand processing.
type TenantTrigger interface {
	Trigger(ctx context.Context, tenant domain.Tenant) (domain.RunReport, error)
	TriggerAsync(tenant domain.Tenant) error
}

// StatsReporter exposes per-tenant statistics to the trigger surface.
type StatsReporter interface {
	Stats(ctx context.Context, tenant domain.Tenant) (domain.TenantStats, error)
	AllStats(ctx context.Context) ([]domain.TenantStats, error)
}
