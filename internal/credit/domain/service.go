package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Append(ctx context.Context, req AppendRequest) (*Credit, error)
	// Sum totals amounts of creditType recorded in [from, to).
	Sum(ctx context.Context, tenantID, creditType string, from, to time.Time) (int64, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidType   = errors.New("invalid_credit_type")
	ErrInvalidAmount = errors.New("invalid_credit_amount")
	ErrInvalidRange  = errors.New("invalid_credit_range")
)
