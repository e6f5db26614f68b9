package tenant

import (
	"github.com/smallbiznis/tenantbilling/internal/tenant/repository"
	"github.com/smallbiznis/tenantbilling/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
