package domain

import (
	"errors"
	"fmt"
	"time"
)

// UsageRecord is the local audit trail of one accepted usage report.
type UsageRecord struct {
	ID                               string    `json:"id" gorm:"primaryKey;type:text"`
	TenantSubscriptionProductPriceID string    `json:"tenant_subscription_product_price_id" gorm:"type:text;not null;index:idx_usage_records_price_recorded,priority:1"`
	ExternalSubscriptionItemID       string    `json:"external_subscription_item_id" gorm:"type:text;not null"`
	Quantity                         int64     `json:"quantity" gorm:"not null"`
	IdempotencyKey                   string    `json:"idempotency_key" gorm:"type:text;not null;uniqueIndex:ux_usage_records_idempotency_key"`
	RecordedAt                       time.Time `json:"recorded_at" gorm:"not null;index:idx_usage_records_price_recorded,priority:2"`
}

func (UsageRecord) TableName() string { return "usage_records" }

// ReportResult summarises one fan-out. Failed rows are described by the
// error returned alongside it.
type ReportResult struct {
	UnitName string        `json:"unit_name"`
	Reported []UsageRecord `json:"reported"`
	Failed   int           `json:"failed"`
}

// ReportError is the failure of a single price row.
type ReportError struct {
	ProductInstanceID string
	PriceRowID        string
	Err               error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("usage report for price row %s: %v", e.PriceRowID, e.Err)
}

func (e *ReportError) Unwrap() error { return e.Err }

var (
	ErrInvalidTenant        = errors.New("invalid_tenant")
	ErrInvalidUnit          = errors.New("invalid_usage_unit")
	ErrSubscriptionItemGone = errors.New("subscription_item_not_found")
)
