package types

// PackageIndexFile is the on-disk YAML format served by the package-index
// repository type: version objects grouped by package name. A version
// object without a name takes the name of its group.
type PackageIndexFile struct {
	Packages map[string][]map[string]any `yaml:"packages"`
}
