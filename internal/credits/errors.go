package credits

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/flowpilot/flowpilot/internal/flowerr"
)

// InsufficientCreditsError is raised before any provider call is made.
type InsufficientCreditsError struct {
	WorkspaceID string
	Balance     decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("workspace %s has insufficient credits (balance %s)", e.WorkspaceID, e.Balance)
}

func (e *InsufficientCreditsError) Kind() flowerr.Kind { return flowerr.KindInsufficientCredits }

// MeteringRateUnavailableError means no rate is configured for a provider
// model. It is a configuration defect; metering is never skipped for it.
type MeteringRateUnavailableError struct {
	Provider string
	Model    string
}

func (e *MeteringRateUnavailableError) Error() string {
	return fmt.Sprintf("no metering rate for %s/%s", e.Provider, e.Model)
}

func (e *MeteringRateUnavailableError) Kind() flowerr.Kind {
	return flowerr.KindMeteringRateUnavailable
}
