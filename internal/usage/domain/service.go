package domain

import "context"

type Service interface {
	// ReportUsage submits a +1 increment for every live metered price the
	// tenant owns for unitName. One failing row never stops the others; the
	// returned error joins every row failure.
	ReportUsage(ctx context.Context, tenantID, unitName string) (*ReportResult, error)
}
