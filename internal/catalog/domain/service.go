package domain

import "context"

type Service interface {
	ListProducts(ctx context.Context, filter ListFilter) ([]Product, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	ResolveExternalPrice(ctx context.Context, externalPriceID string) (*ResolvedPrice, error)
	GetPrice(ctx context.Context, priceID string) (*ResolvedPrice, error)
	Features(ctx context.Context) ([]Feature, error)
	Upsert(ctx context.Context, product Product) (*Product, error)
}

type ListFilter struct {
	PublicOnly bool
	ActiveOnly bool
	IDs        []string
}

// ResolvedPrice is a local price found by id or external reference.
// Exactly one of Flat and Usage is set.
type ResolvedPrice struct {
	Product *Product
	Flat    *FlatPrice
	Usage   *UsageBasedPrice
}

func (r ResolvedPrice) PriceID() string {
	if r.Flat != nil {
		return r.Flat.ID
	}
	if r.Usage != nil {
		return r.Usage.ID
	}
	return ""
}
