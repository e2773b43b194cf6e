package fetcher

import (
	"context"

	"github.com/shopspring/decimal"
)

// RatioFetcher retrieves the current collateral ratio for a set of
// accounts. Accounts missing from the result simply had no usable value
// this cycle; a returned error means the whole poll failed.
type RatioFetcher interface {
	FetchRatios(ctx context.Context, accounts []string) (map[string]decimal.Decimal, error)
}
