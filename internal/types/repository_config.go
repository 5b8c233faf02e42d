package types

// RepositoryType names a repository implementation in configuration.
type RepositoryType string

const (
	RepositoryTypeComposer     RepositoryType = "composer"
	RepositoryTypePackage      RepositoryType = "package"
	RepositoryTypePackageIndex RepositoryType = "package-index"
	RepositoryTypeVcs          RepositoryType = "vcs"
	RepositoryTypeGit          RepositoryType = "git"
	RepositoryTypePath         RepositoryType = "path"
)

// RepositoryConfig is one entry of the "repositories" config list.
type RepositoryConfig struct {
	Type               RepositoryType   `mapstructure:"type" yaml:"type" json:"type"`
	Name               string           `mapstructure:"name" yaml:"name,omitempty" json:"name,omitempty"`
	URL                string           `mapstructure:"url" yaml:"url,omitempty" json:"url,omitempty"`
	Path               string           `mapstructure:"path" yaml:"path,omitempty" json:"path,omitempty"`
	Only               []string         `mapstructure:"only" yaml:"only,omitempty" json:"only,omitempty"`
	Exclude            []string         `mapstructure:"exclude" yaml:"exclude,omitempty" json:"exclude,omitempty"`
	Canonical          *bool            `mapstructure:"canonical" yaml:"canonical,omitempty" json:"canonical,omitempty"`
	SecurityAdvisories *bool            `mapstructure:"security-advisories" yaml:"security-advisories,omitempty" json:"security-advisories,omitempty"`
	Packages           []map[string]any `mapstructure:"packages" yaml:"packages,omitempty" json:"packages,omitempty"`
	NoAPI              bool             `mapstructure:"no-api" yaml:"no-api,omitempty" json:"no-api,omitempty"`
	Options            map[string]any   `mapstructure:"options" yaml:"options,omitempty" json:"options,omitempty"`
}

// IsCanonical defaults to true when unset.
func (c RepositoryConfig) IsCanonical() bool {
	return c.Canonical == nil || *c.Canonical
}

// AdvisoriesEnabled defaults to true when unset.
func (c RepositoryConfig) AdvisoriesEnabled() bool {
	return c.SecurityAdvisories == nil || *c.SecurityAdvisories
}

// SearchMode selects which package fields Search matches against.
type SearchMode int

const (
	SearchFulltext SearchMode = iota
	SearchName
	SearchVendor
)

// SearchResult is one hit returned by a repository search.
type SearchResult struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
	// Abandoned is empty when the package is maintained, "true" when it is
	// abandoned without replacement, otherwise the replacement name.
	Abandoned string `json:"abandoned,omitempty" yaml:"abandoned,omitempty"`
}

// LoadResult is returned by LoadPackages.
type LoadResult struct {
	NamesFound []string
	Packages   []Package
}
