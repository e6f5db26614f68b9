package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/tenantbilling/internal/credit/domain"
	"github.com/smallbiznis/tenantbilling/internal/credit/repository"
	"github.com/smallbiznis/tenantbilling/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreditAppendAndSum(t *testing.T) {
	db := testkit.NewDB(t, &domain.Credit{})
	clk := testkit.NewClock()
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testkit.NewNode(t),
		Repo:  repository.Provide(),
		Clock: clk,
	})
	ctx := context.Background()
	start := clk.Now()

	_, err := svc.Append(ctx, domain.AppendRequest{TenantID: "t1", Type: "exports", Amount: 3})
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = svc.Append(ctx, domain.AppendRequest{TenantID: "t1", Type: "exports", Amount: 2})
	require.NoError(t, err)
	_, err = svc.Append(ctx, domain.AppendRequest{TenantID: "t1", Type: "exports", Amount: -1})
	require.NoError(t, err)
	_, err = svc.Append(ctx, domain.AppendRequest{TenantID: "t1", Type: "imports", Amount: 7})
	require.NoError(t, err)
	_, err = svc.Append(ctx, domain.AppendRequest{TenantID: "t2", Type: "exports", Amount: 9})
	require.NoError(t, err)

	total, err := svc.Sum(ctx, "t1", "exports", start, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)

	// The upper bound is exclusive.
	total, err = svc.Sum(ctx, "t1", "exports", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	total, err = svc.Sum(ctx, "t3", "exports", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCreditValidation(t *testing.T) {
	db := testkit.NewDB(t, &domain.Credit{})
	clk := testkit.NewClock()
	svc := New(Params{DB: db, Log: zap.NewNop(), GenID: testkit.NewNode(t), Repo: repository.Provide(), Clock: clk})
	ctx := context.Background()

	_, err := svc.Append(ctx, domain.AppendRequest{Type: "exports", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidTenant)
	_, err = svc.Append(ctx, domain.AppendRequest{TenantID: "t1", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidType)
	_, err = svc.Append(ctx, domain.AppendRequest{TenantID: "t1", Type: "exports"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	now := clk.Now()
	_, err = svc.Sum(ctx, "t1", "exports", now, now)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}
