package types

import "time"

// SecurityAdvisory is a fully populated advisory entry.
type SecurityAdvisory struct {
	AdvisoryID       string           `json:"advisoryId" yaml:"advisoryId"`
	PackageName      string           `json:"packageName" yaml:"packageName"`
	AffectedVersions Constraint       `json:"-" yaml:"-"`
	AffectedRaw      string           `json:"affectedVersions" yaml:"affectedVersions"`
	Title            string           `json:"title" yaml:"title"`
	CVE              string           `json:"cve,omitempty" yaml:"cve,omitempty"`
	Link             string           `json:"link,omitempty" yaml:"link,omitempty"`
	ReportedAt       time.Time        `json:"reportedAt" yaml:"reportedAt"`
	Severity         string           `json:"severity,omitempty" yaml:"severity,omitempty"`
	Sources          []AdvisorySource `json:"sources,omitempty" yaml:"sources,omitempty"`
}

type AdvisorySource struct {
	Name     string `json:"name" yaml:"name"`
	RemoteID string `json:"remoteId" yaml:"remoteId"`
}

// PartialSecurityAdvisory only carries the identifying fields; it is what
// repositories return when the caller tolerates incomplete data.
type PartialSecurityAdvisory struct {
	AdvisoryID       string     `json:"advisoryId" yaml:"advisoryId"`
	PackageName      string     `json:"packageName" yaml:"packageName"`
	AffectedVersions Constraint `json:"-" yaml:"-"`
	AffectedRaw      string     `json:"affectedVersions" yaml:"affectedVersions"`
}

// Advisory is either a full or a partial advisory.
type Advisory interface {
	ID() string
	Package() string
	Affected() Constraint
}

func (a SecurityAdvisory) ID() string                  { return a.AdvisoryID }
func (a SecurityAdvisory) Package() string             { return a.PackageName }
func (a SecurityAdvisory) Affected() Constraint        { return a.AffectedVersions }
func (a PartialSecurityAdvisory) ID() string           { return a.AdvisoryID }
func (a PartialSecurityAdvisory) Package() string      { return a.PackageName }
func (a PartialSecurityAdvisory) Affected() Constraint { return a.AffectedVersions }

// AdvisoryResult groups advisories by package name and records the names a
// repository answered for.
type AdvisoryResult struct {
	NamesFound []string
	Advisories map[string][]Advisory
}
