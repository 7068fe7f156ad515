package alerting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/t77yq/resale-alerts/internal/duestate"
)

// UnknownPlatformLabel stands in for a platform that can no longer be resolved
const UnknownPlatformLabel = "Unknown platform"

// FormatAmount renders a monetary amount with two decimals and the currency symbol
func FormatAmount(symbol string, amount decimal.Decimal) string {
	return symbol + amount.StringFixed(2)
}

// duePhrase renders the due-state fragment of an alert message for an actionable state
func duePhrase(state duestate.State) string {
	if !state.Overdue() {
		return "due TODAY"
	}
	overdue := state.DaysOverdue()
	unit := "days"
	if overdue == 1 {
		unit = "day"
	}
	return fmt.Sprintf("overdue by %d %s", overdue, unit)
}

// ClientChargeMessage renders the message for a client owing the business
func ClientChargeMessage(client, platform string, state duestate.State, amount string) string {
	return fmt.Sprintf("%s - %s %s - %s", client, platform, duePhrase(state), amount)
}

// PlatformPaymentMessage renders the message for the business owing a platform
func PlatformPaymentMessage(platform string, state duestate.State, amount string) string {
	return fmt.Sprintf("%s payment %s - %s", platform, duePhrase(state), amount)
}
