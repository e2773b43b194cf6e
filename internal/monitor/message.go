package monitor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Ratios render as percentages with two decimal places; thresholds are
// whole percentages. Rendering is pure, so identical inputs always
// produce byte-identical text.
const percentPlaces = 2

var hundred = decimal.NewFromInt(100)

func formatRatio(v decimal.Decimal) string {
	return v.Mul(hundred).StringFixed(percentPlaces)
}

func formatThreshold(v decimal.Decimal) string {
	return v.Mul(hundred).StringFixed(0)
}

func renderUnhealthyWarning(ratio decimal.Decimal, t Thresholds) RenderedText {
	return RenderedText{
		Subject: "⚠️ Unhealthy Collateral-ratio",
		Body: fmt.Sprintf(
			"⚠️ Warning! Your current collateral-ratio is %s%%. It has dropped below the healthy threshold of %s%%. Please monitor your borrowing and lending closely. Your deposited assets will start being liquidated at %s%%.",
			formatRatio(ratio), formatThreshold(t.Healthy), formatThreshold(t.Liquidation),
		),
	}
}

func renderHealthyRecovered(ratio decimal.Decimal, t Thresholds) RenderedText {
	return RenderedText{
		Subject: "✅ Healthy Collateral-ratio",
		Body: fmt.Sprintf(
			"✅ Your current collateral-ratio is %s%% - Your account is healthy.",
			formatRatio(ratio),
		),
	}
}

func renderCriticalWarning(ratio decimal.Decimal, t Thresholds) RenderedText {
	return RenderedText{
		Subject: "🚨 Critical Collateral-ratio",
		Body: fmt.Sprintf(
			"🚨 Warning! Your current collateral-ratio is %s%%, which is below the critical threshold of %s%%. Please deposit more assets or repay your loans. Your deposited assets will start being liquidated at %s%%.",
			formatRatio(ratio), formatThreshold(t.Critical), formatThreshold(t.Liquidation),
		),
	}
}

func renderCriticalRecovered(ratio decimal.Decimal, t Thresholds) RenderedText {
	return RenderedText{
		Subject: "⚠️ Unhealthy Collateral-ratio",
		Body: fmt.Sprintf(
			"⚠️ Your current collateral-ratio is %s%%, which is just above the critical threshold of %s%%. We recommend keeping your collateral-ratio above the healthy threshold of %s%%.",
			formatRatio(ratio), formatThreshold(t.Critical), formatThreshold(t.Healthy),
		),
	}
}

// WelcomeNotification greets a freshly added subscriber.
func WelcomeNotification(account string, now time.Time) Notification {
	return Notification{
		Account: account,
		Kind:    EventWelcome,
		At:      now,
		Text: RenderedText{
			Subject: "👋 Welcome",
			Body:    "Thanks for subscribing to collateral-ratio notifications. You'll receive notifications about your collateralization ratio & risk of liquidation warnings.",
		},
	}
}
