package types

// InstalledDocument is the vendor/composer/installed.json format.
type InstalledDocument struct {
	Packages        []map[string]any `json:"packages"`
	Dev             bool             `json:"dev"`
	DevPackageNames []string         `json:"dev-package-names"`
}

// LockDocument is the subset of composer.lock the repository layer reads.
type LockDocument struct {
	Packages         []map[string]any `json:"packages"`
	PackagesDev      []map[string]any `json:"packages-dev"`
	Aliases          []LockAlias      `json:"aliases"`
	MinimumStability string           `json:"minimum-stability"`
	StabilityFlags   map[string]int   `json:"stability-flags"`
	PreferStable     bool             `json:"prefer-stable"`
	Platform         map[string]any   `json:"platform"`
	PlatformDev      map[string]any   `json:"platform-dev"`
}

type LockAlias struct {
	Package         string `json:"package"`
	Version         string `json:"version"`
	Alias           string `json:"alias"`
	AliasNormalized string `json:"alias_normalized"`
}
