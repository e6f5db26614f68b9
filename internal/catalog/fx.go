package catalog

import (
	"github.com/smallbiznis/tenantbilling/internal/catalog/repository"
	"github.com/smallbiznis/tenantbilling/internal/catalog/seed"
	"github.com/smallbiznis/tenantbilling/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(seed.Run),
)
