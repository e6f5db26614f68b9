package domain

import "time"

// Credit is an append-only ledger entry. Positive amounts consume quota,
// negative amounts give it back.
type Credit struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	TenantID  string    `json:"tenant_id" gorm:"type:text;not null;index:ix_credits_tenant_type_created,priority:1"`
	UserID    *string   `json:"user_id,omitempty" gorm:"type:text"`
	Type      string    `json:"type" gorm:"type:text;not null;index:ix_credits_tenant_type_created,priority:2"`
	ObjectRef *string   `json:"object_ref,omitempty" gorm:"type:text"`
	Amount    int64     `json:"amount" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;index:ix_credits_tenant_type_created,priority:3"`
}

func (Credit) TableName() string { return "credits" }

type AppendRequest struct {
	TenantID  string  `json:"tenant_id"`
	UserID    *string `json:"user_id,omitempty"`
	Type      string  `json:"type"`
	ObjectRef *string `json:"object_ref,omitempty"`
	Amount    int64   `json:"amount"`
}
