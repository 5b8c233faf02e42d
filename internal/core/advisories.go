package core

import (
	"fmt"
	"time"

	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

var advisoryTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseAdvisory builds an advisory from its JSON object. Objects carrying
// title, sources and reportedAt become full advisories; the rest are
// partial, which is an error unless allowPartial is set.
func ParseAdvisory(packageName string, data map[string]any, allowPartial bool) (types.Advisory, error) {
	raw := stringValue(data["affectedVersions"])
	affected, err := semver.ParseConstraints(raw)
	if err != nil {
		return nil, invalidArgument(fmt.Sprintf("advisory %s for %s has invalid affected versions", stringValue(data["advisoryId"]), packageName), err)
	}
	partial := types.PartialSecurityAdvisory{
		AdvisoryID:       stringValue(data["advisoryId"]),
		PackageName:      packageName,
		AffectedVersions: affected,
		AffectedRaw:      raw,
	}
	_, hasTitle := data["title"]
	_, hasSources := data["sources"]
	reportedAt := stringValue(data["reportedAt"])
	if !hasTitle || !hasSources || reportedAt == "" || data["title"] == nil || data["sources"] == nil {
		if !allowPartial {
			return nil, invalidArgument(fmt.Sprintf("advisory %s for %s could not be loaded as a full advisory", partial.AdvisoryID, packageName), nil)
		}
		return partial, nil
	}
	reported, err := parseAdvisoryTime(reportedAt)
	if err != nil {
		return nil, invalidArgument(fmt.Sprintf("advisory %s for %s has an invalid reportedAt", partial.AdvisoryID, packageName), err)
	}
	advisory := types.SecurityAdvisory{
		AdvisoryID:       partial.AdvisoryID,
		PackageName:      packageName,
		AffectedVersions: affected,
		AffectedRaw:      raw,
		Title:            stringValue(data["title"]),
		CVE:              stringValue(data["cve"]),
		Link:             stringValue(data["link"]),
		ReportedAt:       reported,
		Severity:         stringValue(data["severity"]),
	}
	for _, source := range mapSlice(data["sources"]) {
		advisory.Sources = append(advisory.Sources, types.AdvisorySource{
			Name:     stringValue(source["name"]),
			RemoteID: stringValue(source["remoteId"]),
		})
	}
	return advisory, nil
}

func parseAdvisoryTime(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range advisoryTimeLayouts {
		parsed, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return parsed.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// advisoryMatches keeps advisories whose affected range intersects the
// caller's constraint; a nil constraint matches everything.
func advisoryMatches(advisory types.Advisory, constraint types.Constraint) bool {
	if constraint == nil {
		return true
	}
	return advisory.Affected().Matches(constraint)
}
