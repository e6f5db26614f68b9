// Package seed loads catalog definitions from YAML and upserts them.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tenantbilling/internal/catalog/domain"
	"github.com/smallbiznis/tenantbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type file struct {
	Products []productDef `yaml:"products"`
}

type productDef struct {
	ID               string         `yaml:"id"`
	Code             string         `yaml:"code"`
	Title            string         `yaml:"title"`
	Description      string         `yaml:"description"`
	DisplayOrder     int            `yaml:"displayOrder"`
	PricingModel     string         `yaml:"pricingModel"`
	Active           *bool          `yaml:"active"`
	Public           *bool          `yaml:"public"`
	GroupTitle       string         `yaml:"groupTitle"`
	GroupDescription string         `yaml:"groupDescription"`
	SupportsQuantity bool           `yaml:"supportsQuantity"`
	RepeatPurchase   bool           `yaml:"repeatPurchase"`
	Metadata         map[string]any `yaml:"metadata"`
	FlatPrices       []flatDef      `yaml:"flatPrices"`
	UsagePrices      []usageDef     `yaml:"usagePrices"`
	Features         []featureDef   `yaml:"features"`
}

type flatDef struct {
	ExternalPriceID string `yaml:"externalPriceId"`
	Currency        string `yaml:"currency"`
	BillingPeriod   string `yaml:"billingPeriod"`
	Amount          string `yaml:"amount"`
	TrialDays       int    `yaml:"trialDays"`
	Active          *bool  `yaml:"active"`
}

type usageDef struct {
	ExternalPriceID string    `yaml:"externalPriceId"`
	Currency        string    `yaml:"currency"`
	UnitName        string    `yaml:"unitName"`
	UsageType       string    `yaml:"usageType"`
	Aggregation     string    `yaml:"aggregation"`
	TierMode        string    `yaml:"tierMode"`
	BillingScheme   string    `yaml:"billingScheme"`
	Active          *bool     `yaml:"active"`
	Tiers           []tierDef `yaml:"tiers"`
}

type tierDef struct {
	From       int64  `yaml:"from"`
	To         *int64 `yaml:"to"`
	UnitAmount string `yaml:"unitAmount"`
	FlatAmount string `yaml:"flatAmount"`
}

type featureDef struct {
	Name       string `yaml:"name"`
	Title      string `yaml:"title"`
	LimitType  string `yaml:"limitType"`
	Value      int64  `yaml:"value"`
	Accumulate bool   `yaml:"accumulate"`
}

// Load decodes a catalog document into unsaved products.
func Load(r io.Reader) ([]domain.Product, error) {
	var doc file
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	products := make([]domain.Product, 0, len(doc.Products))
	for i, def := range doc.Products {
		product, err := def.toDomain()
		if err != nil {
			return nil, fmt.Errorf("product %d (%s): %w", i, def.Title, err)
		}
		products = append(products, product)
	}
	return products, nil
}

func LoadFile(path string) ([]domain.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Apply upserts every product, stopping at the first failure.
func Apply(ctx context.Context, svc domain.Service, products []domain.Product) error {
	for _, product := range products {
		if _, err := svc.Upsert(ctx, product); err != nil {
			return fmt.Errorf("seed %q: %w", product.Title, err)
		}
	}
	return nil
}

// Run seeds the catalog from the configured file on startup.
func Run(lc fx.Lifecycle, cfg config.Config, svc domain.Service, log *zap.Logger) {
	path := strings.TrimSpace(cfg.CatalogFile)
	if path == "" {
		return
	}
	log = log.Named("catalog.seed")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			products, err := LoadFile(path)
			if err != nil {
				return err
			}
			if err := Apply(ctx, svc, products); err != nil {
				return err
			}
			log.Info("catalog seeded", zap.String("file", path), zap.Int("products", len(products)))
			return nil
		},
	})
}

func (d productDef) toDomain() (domain.Product, error) {
	product := domain.Product{
		ID:               strings.TrimSpace(d.ID),
		Code:             d.Code,
		Title:            d.Title,
		Description:      optional(d.Description),
		DisplayOrder:     d.DisplayOrder,
		PricingModel:     domain.PricingModel(d.PricingModel),
		Active:           boolOr(d.Active, true),
		Public:           boolOr(d.Public, true),
		GroupTitle:       optional(d.GroupTitle),
		GroupDescription: optional(d.GroupDescription),
		SupportsQuantity: d.SupportsQuantity,
		RepeatPurchase:   d.RepeatPurchase,
		Metadata:         d.Metadata,
	}

	for _, fp := range d.FlatPrices {
		amount, err := parseAmount(fp.Amount)
		if err != nil {
			return product, err
		}
		product.FlatPrices = append(product.FlatPrices, domain.FlatPrice{
			ExternalPriceID: fp.ExternalPriceID,
			Currency:        fp.Currency,
			BillingPeriod:   domain.BillingPeriod(fp.BillingPeriod),
			Amount:          amount,
			TrialDays:       fp.TrialDays,
			Active:          boolOr(fp.Active, true),
		})
	}

	for _, up := range d.UsagePrices {
		price := domain.UsageBasedPrice{
			ExternalPriceID: up.ExternalPriceID,
			Currency:        up.Currency,
			UnitName:        up.UnitName,
			UsageType:       domain.UsageType(up.UsageType),
			Aggregation:     domain.Aggregation(up.Aggregation),
			TierMode:        domain.TierMode(up.TierMode),
			BillingScheme:   domain.BillingScheme(up.BillingScheme),
			Active:          boolOr(up.Active, true),
		}
		for _, tier := range up.Tiers {
			unit, err := parseAmount(tier.UnitAmount)
			if err != nil {
				return product, err
			}
			flat, err := parseAmount(tier.FlatAmount)
			if err != nil {
				return product, err
			}
			price.Tiers = append(price.Tiers, domain.Tier{
				FromQuantity: tier.From,
				ToQuantity:   tier.To,
				UnitAmount:   unit,
				FlatAmount:   flat,
			})
		}
		product.UsagePrices = append(product.UsagePrices, price)
	}

	for i, f := range d.Features {
		product.Features = append(product.Features, domain.Feature{
			Name:         f.Name,
			Title:        f.Title,
			LimitType:    domain.LimitType(f.LimitType),
			Value:        f.Value,
			Accumulate:   f.Accumulate,
			DisplayOrder: i + 1,
		})
	}
	return product, nil
}

func parseAmount(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func boolOr(value *bool, def bool) bool {
	if value == nil {
		return def
	}
	return *value
}
