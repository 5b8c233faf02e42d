package types

// PlatformFacts describes the PHP runtime that platform packages are
// synthesized from.
type PlatformFacts struct {
	PHPVersion        string            `json:"php_version"`
	PointerSize       int               `json:"pointer_size"`
	IPv6              bool              `json:"ipv6"`
	ZTS               bool              `json:"zts"`
	Debug             bool              `json:"debug"`
	Extensions        map[string]string `json:"extensions"`
	ExtensionInfo     map[string]string `json:"extension_info"`
	Constants         map[string]string `json:"constants"`
	ComposerVersion   string            `json:"composer_version"`
	PluginAPIVersion  string            `json:"plugin_api_version"`
	RuntimeAPIVersion string            `json:"runtime_api_version"`
}

// PlatformOverride is one "config.platform" entry. Disabled replaces the
// literal false value.
type PlatformOverride struct {
	Name     string
	Version  string
	Disabled bool
}
