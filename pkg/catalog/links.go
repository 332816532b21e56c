package catalog

import (
	"github.com/calcpilot/calcpilot/pkg/engine"
)

const (
	summarySelector    = `button[aria-label="View summary"]`
	shareSelector      = `button[aria-label="Share"]`
	agreeSelector      = `button[aria-label="Agree and continue"]`
	closeSelector      = `button[aria-label="Close"]`
	shareDialog        = `[role="dialog"][aria-label="Save estimate"]`
	pricingModel       = `[aria-label="Pricing model"]`
	PublicLinkSelector = `input[aria-label="Public estimate link"]`
)

// SavingsPlanOption is the pricing model shown in the second link.
const SavingsPlanOption = "Compute Savings Plans"

// NewLinkGenerator returns the share procedure for the estimate: the on-demand
// link is read from the share dialog, then the pricing model is switched to
// savings plans and the dialog is opened again for the second link.
func NewLinkGenerator() *engine.ProcedureLinkGenerator {
	share := []engine.ActionSpec{
		{
			Name:           "open share dialog",
			Target:         shareSelector,
			Operation:      engine.OpClick,
			ExpectedSignal: engine.Signal{Selector: shareDialog},
		},
		{
			Name:           "accept share terms",
			Target:         agreeSelector,
			Operation:      engine.OpClick,
			ExpectedSignal: engine.Signal{Selector: PublicLinkSelector, Value: "#/estimate?id=", Contains: true},
		},
	}

	onDemand := []engine.ActionSpec{{
		Name:           "view estimate summary",
		Target:         summarySelector,
		Operation:      engine.OpClick,
		ExpectedSignal: engine.Signal{Kind: engine.SignalLocation, Value: "#/estimate", Contains: true},
	}}
	onDemand = append(onDemand, share...)

	savings := []engine.ActionSpec{
		{
			Name:      "close share dialog",
			Target:    closeSelector,
			Operation: engine.OpClick,
		},
		{
			Name:           "switch to savings plans",
			Target:         pricingModel,
			Operation:      engine.OpSelect,
			Value:          SavingsPlanOption,
			ExpectedSignal: engine.Signal{Selector: pricingModel, Value: SavingsPlanOption},
		},
	}
	savings = append(savings, share...)

	return &engine.ProcedureLinkGenerator{
		OnDemand:    engine.LinkProcedure{Steps: onDemand, LinkSelector: PublicLinkSelector},
		SavingsPlan: engine.LinkProcedure{Steps: savings, LinkSelector: PublicLinkSelector},
	}
}
