package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// EstimateLinkBase is the canonical prefix of a shared estimate link.
const EstimateLinkBase = "https://calculator.aws/#/estimate?id="

var estimateLinkPattern = regexp.MustCompile(`(?:https?://)?calculator\.aws/#/estimate\?id=([a-fA-F0-9]+)`)

// ExtractEstimateLink returns the last estimate link found in text,
// normalized to the https form, or "" if there is none.
func ExtractEstimateLink(text string) string {
	matches := estimateLinkPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	id := strings.ToLower(matches[len(matches)-1][1])
	return EstimateLinkBase + id
}

// LinkProcedure describes how to obtain one shareable link: the actions that
// make the link visible and the element it can then be read from.
type LinkProcedure struct {
	// Steps are executed in order before reading the link.
	Steps []ActionSpec

	// LinkSelector is the element holding the link text or value.
	LinkSelector string
}

// ProcedureLinkGenerator obtains the on-demand and savings-plan links by
// running two link procedures. The savings-plan link is optional.
type ProcedureLinkGenerator struct {
	OnDemand    LinkProcedure
	SavingsPlan LinkProcedure
}

// Generate implements LinkGenerator.
func (g *ProcedureLinkGenerator) Generate(ctx context.Context, runner ActionRunner, s *Session) (EstimateLinks, error) {
	var links EstimateLinks

	onDemand, err := g.obtain(ctx, runner, s, g.OnDemand)
	if err != nil {
		return links, fmt.Errorf("on-demand link: %w", err)
	}
	links.OnDemand = &onDemand

	if len(g.SavingsPlan.Steps) == 0 && g.SavingsPlan.LinkSelector == "" {
		return links, nil
	}
	savings, err := g.obtain(ctx, runner, s, g.SavingsPlan)
	if err != nil {
		// savings-plan link stays null
		return links, nil
	}
	links.SavingsPlan = &savings
	return links, nil
}

func (g *ProcedureLinkGenerator) obtain(ctx context.Context, runner ActionRunner, s *Session, proc LinkProcedure) (string, error) {
	for _, step := range proc.Steps {
		out := runner.Run(ctx, s, step)
		if !out.Success {
			return "", NewStructuralError(fmt.Sprintf("step %q failed", step.Label()), out.Err).
				WithCode(ErrCodeLinkGenerationFailed)
		}
	}
	obs, err := s.Observe(ctx, proc.LinkSelector)
	if err != nil {
		return "", err
	}
	if !obs.Present {
		return "", NewStructuralError("share link element not present", ErrTargetNotFound).
			WithCode(ErrCodeLinkGenerationFailed).
			WithResource(proc.LinkSelector)
	}
	link := ExtractEstimateLink(obs.Value)
	if link == "" {
		return "", NewStructuralError("no estimate link in share dialog", errors.New(obs.Value)).
			WithCode(ErrCodeLinkGenerationFailed)
	}
	return link, nil
}
