package app

import (
	"context"
	"sort"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"composer-repos/internal/shared"
	"composer-repos/internal/types"
)

// Advisories reports the security advisories of the named packages. An
// argument carrying a constraint only keeps advisories whose affected
// range intersects it.
func (s Service) Advisories(ctx context.Context, req AdvisoriesRequest) (AdvisoriesResult, error) {
	if len(req.Packages) == 0 {
		return AdvisoriesResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("at least one package name is required")
	}
	constraints := map[string]types.Constraint{}
	for _, arg := range req.Packages {
		name, expression := shared.SplitNameConstraint(arg)
		if name == "" {
			return AdvisoriesResult{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("empty package name in " + arg)
		}
		constraint, err := parseConstraint(expression)
		if err != nil {
			return AdvisoriesResult{}, err
		}
		constraints[name] = constraint
	}

	set, err := s.repositorySet(ctx, false)
	if err != nil {
		return AdvisoriesResult{}, err
	}
	report, err := set.GetSecurityAdvisories(ctx, shared.SortedKeys(constraints), false, req.IgnoreUnreachable)
	if err != nil {
		return AdvisoriesResult{}, err
	}

	result := AdvisoriesResult{Advisories: []AdvisoryEntry{}, UnreachableRepos: report.UnreachableRepos}
	seen := map[string]bool{}
	for _, name := range shared.SortedKeys(report.Advisories) {
		constraint := constraints[name]
		for _, advisory := range report.Advisories[name] {
			if constraint != nil && advisory.Affected() != nil && !constraint.Matches(advisory.Affected()) {
				continue
			}
			key := name + "\x00" + advisory.ID()
			if seen[key] {
				continue
			}
			seen[key] = true
			result.Advisories = append(result.Advisories, advisoryEntry(advisory))
		}
	}
	sort.SliceStable(result.Advisories, func(i, j int) bool {
		if result.Advisories[i].Package != result.Advisories[j].Package {
			return result.Advisories[i].Package < result.Advisories[j].Package
		}
		return result.Advisories[i].ID < result.Advisories[j].ID
	})
	return result, nil
}

func advisoryEntry(advisory types.Advisory) AdvisoryEntry {
	switch value := advisory.(type) {
	case types.SecurityAdvisory:
		entry := AdvisoryEntry{
			ID:       value.AdvisoryID,
			Package:  value.PackageName,
			Affected: value.AffectedRaw,
			Title:    value.Title,
			CVE:      value.CVE,
			Link:     value.Link,
			Severity: value.Severity,
		}
		if !value.ReportedAt.IsZero() {
			reported := value.ReportedAt
			entry.ReportedAt = &reported
		}
		return entry
	case types.PartialSecurityAdvisory:
		return AdvisoryEntry{ID: value.AdvisoryID, Package: value.PackageName, Affected: value.AffectedRaw}
	}
	entry := AdvisoryEntry{ID: advisory.ID(), Package: advisory.Package()}
	if affected := advisory.Affected(); affected != nil {
		entry.Affected = affected.String()
	}
	return entry
}
