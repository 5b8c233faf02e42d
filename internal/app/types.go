package app

import (
	"time"

	"composer-repos/internal/core"
	"composer-repos/internal/types"
)

type ShowRequest struct {
	Name           string
	Constraint     string
	AllStabilities bool
	Shadowed       bool
	// Pool resolves the package through a pool built from its dependency
	// graph instead of a direct repository lookup.
	Pool bool
}

type PackageSummary struct {
	Name          string            `json:"name" yaml:"name"`
	Version       string            `json:"version" yaml:"version"`
	Normalized    string            `json:"version_normalized" yaml:"version_normalized"`
	Stability     types.Stability   `json:"stability" yaml:"stability"`
	Type          string            `json:"type,omitempty" yaml:"type,omitempty"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	Repository    string            `json:"repository,omitempty" yaml:"repository,omitempty"`
	Source        *types.SourceInfo `json:"source,omitempty" yaml:"source,omitempty"`
	Dist          *types.DistInfo   `json:"dist,omitempty" yaml:"dist,omitempty"`
	Requires      map[string]string `json:"require,omitempty" yaml:"require,omitempty"`
	Abandoned     string            `json:"abandoned,omitempty" yaml:"abandoned,omitempty"`
	DefaultBranch bool              `json:"default_branch,omitempty" yaml:"default_branch,omitempty"`
	AliasOf       string            `json:"alias_of,omitempty" yaml:"alias_of,omitempty"`
}

type ShowResult struct {
	Name      string              `json:"name" yaml:"name"`
	Packages  []PackageSummary    `json:"packages" yaml:"packages"`
	Providers []core.ProviderInfo `json:"providers,omitempty" yaml:"providers,omitempty"`
}

type SearchRequest struct {
	Query string
	Mode  string
	Type  string
}

type SearchResult struct {
	Query   string               `json:"query" yaml:"query"`
	Results []types.SearchResult `json:"results" yaml:"results"`
}

type AdvisoriesRequest struct {
	// Packages are "vendor/name" or "vendor/name:constraint" arguments.
	Packages          []string
	IgnoreUnreachable bool
}

type AdvisoryEntry struct {
	ID         string     `json:"advisoryId" yaml:"advisoryId"`
	Package    string     `json:"packageName" yaml:"packageName"`
	Affected   string     `json:"affectedVersions" yaml:"affectedVersions"`
	Title      string     `json:"title,omitempty" yaml:"title,omitempty"`
	CVE        string     `json:"cve,omitempty" yaml:"cve,omitempty"`
	Link       string     `json:"link,omitempty" yaml:"link,omitempty"`
	Severity   string     `json:"severity,omitempty" yaml:"severity,omitempty"`
	ReportedAt *time.Time `json:"reportedAt,omitempty" yaml:"reportedAt,omitempty"`
}

type AdvisoriesResult struct {
	Advisories       []AdvisoryEntry `json:"advisories" yaml:"advisories"`
	UnreachableRepos []string        `json:"unreachable_repositories,omitempty" yaml:"unreachable_repositories,omitempty"`
}

type PlatformResult struct {
	Packages []PackageSummary `json:"packages" yaml:"packages"`
	Disabled []string         `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	PHP      string           `json:"php_override,omitempty" yaml:"php_override,omitempty"`
}

type DependsRequest struct {
	Name       string
	Constraint string
	// Installed is an installed.json or composer.lock path.
	Installed string
	// Manifest is the project's composer.json. Empty uses the composer.json
	// next to a composer.lock when there is one.
	Manifest  string
	Recursive bool
	Invert    bool
	Dev       bool
}

type DependentEntry struct {
	Package    string           `json:"package" yaml:"package"`
	Version    string           `json:"version" yaml:"version"`
	Relation   string           `json:"relation" yaml:"relation"`
	Target     string           `json:"target" yaml:"target"`
	Constraint string           `json:"constraint" yaml:"constraint"`
	Circular   bool             `json:"circular,omitempty" yaml:"circular,omitempty"`
	Dependents []DependentEntry `json:"dependents,omitempty" yaml:"dependents,omitempty"`
}

type DependsResult struct {
	Name       string           `json:"name" yaml:"name"`
	Dependents []DependentEntry `json:"dependents" yaml:"dependents"`
}

type CachePathsResult struct {
	Backend  string `json:"backend" yaml:"backend"`
	Root     string `json:"root,omitempty" yaml:"root,omitempty"`
	Repo     string `json:"repo,omitempty" yaml:"repo,omitempty"`
	Vcs      string `json:"vcs,omitempty" yaml:"vcs,omitempty"`
	Versions string `json:"versions,omitempty" yaml:"versions,omitempty"`
}
