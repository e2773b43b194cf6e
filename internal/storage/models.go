package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatioSample is one persisted per-cycle observation for one account.
type RatioSample struct {
	Account    string
	Ratio      decimal.Decimal
	ObservedAt time.Time
	CreatedAt  time.Time
}

// AlertRecord captures an emitted notification for auditing.
type AlertRecord struct {
	ID        int64
	Account   string
	Kind      string
	Ratio     decimal.Decimal
	Message   string
	CreatedAt time.Time
}
