package core

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"composer-repos/internal/ports"
	"composer-repos/internal/semver"
	"composer-repos/internal/types"
)

const (
	defaultComposerVersion   = "2.8.4"
	defaultPluginAPIVersion  = "2.6.0"
	defaultRuntimeAPIVersion = "2.2.2"
)

var (
	platformPackagePattern = regexp.MustCompile(`(?i)^(?:php(?:-64bit|-ipv6|-zts|-debug)?|hhvm|(?:ext|lib)-[a-z0-9](?:[_.-]?[a-z0-9]+)*|composer(?:-(?:plugin|runtime)-api)?)$`)
	phpVersionPrefix       = regexp.MustCompile(`^([^~+-]+)`)
	extensionVersionPrefix = regexp.MustCompile(`^(\d+\.\d+\.\d+(?:\.\d+)?)`)
)

// IsPlatformPackage reports names that only the platform repository can
// provide.
func IsPlatformPackage(name string) bool {
	return platformPackagePattern.MatchString(name)
}

// ParsePlatformOverrides converts a config.platform map. Values must be a
// version string or false.
func ParsePlatformOverrides(raw map[string]any) ([]types.PlatformOverride, error) {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	overrides := make([]types.PlatformOverride, 0, len(raw))
	for _, name := range names {
		switch value := raw[name].(type) {
		case string:
			overrides = append(overrides, types.PlatformOverride{Name: name, Version: value})
		case bool:
			if value {
				return nil, invalidArgument(fmt.Sprintf("config.platform.%s should be a string or false, got true", name), nil)
			}
			overrides = append(overrides, types.PlatformOverride{Name: name, Disabled: true})
		default:
			return nil, invalidArgument(fmt.Sprintf("config.platform.%s should be a string or false, got %T", name, value), nil)
		}
	}
	return overrides, nil
}

// PlatformRepository synthesizes packages describing the PHP runtime from
// detected facts, with config.platform overrides applied on top.
type PlatformRepository struct {
	*ArrayRepository
	detector  ports.PlatformDetectorPort
	overrides map[string]types.PlatformOverride
	disabled  map[string]*types.CompletePackage
	libraries map[string]bool
	lastPHP   string
}

func NewPlatformRepository(detector ports.PlatformDetectorPort, overrides []types.PlatformOverride) (*PlatformRepository, error) {
	repo := &PlatformRepository{
		detector:  detector,
		overrides: map[string]types.PlatformOverride{},
		disabled:  map[string]*types.CompletePackage{},
	}
	for _, override := range overrides {
		name := strings.ToLower(override.Name)
		if name == "php" && override.Disabled {
			return nil, failedPrecondition("config.platform.php cannot be set to false as you cannot disable php entirely")
		}
		if !IsPlatformPackage(name) {
			return nil, invalidArgument("invalid platform package name in config.platform: "+override.Name, nil)
		}
		repo.overrides[name] = override
	}
	repo.ArrayRepository = newArrayRepository(KindPlatform, "platform repo", repo.load)
	repo.owner = repo
	return repo, nil
}

// IsPlatformPackageDisabled reports packages disabled with a false override.
func (r *PlatformRepository) IsPlatformPackageDisabled(name string) bool {
	_, ok := r.disabled[name]
	return ok
}

// GetDisabledPackages returns the detected packages that were disabled,
// keyed by name.
func (r *PlatformRepository) GetDisabledPackages(ctx context.Context) (map[string]types.Package, error) {
	if err := r.initialize(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]types.Package, len(r.disabled))
	for name, pkg := range r.disabled {
		out[name] = pkg
	}
	return out, nil
}

// LastSeenPlatformPHP is the major.minor.patch of the last php override
// this repository applied, or empty.
func (r *PlatformRepository) LastSeenPlatformPHP() string {
	return r.lastPHP
}

// AddPackage applies overrides before storing pkg.
func (r *PlatformRepository) AddPackage(pkg types.Package) error {
	complete, ok := pkg.(*types.CompletePackage)
	if !ok {
		return invalidArgument(fmt.Sprintf("platform repository only holds complete packages, got %s", pkg), nil)
	}
	return r.add(complete)
}

// Search never matches vendors, platform packages have none.
func (r *PlatformRepository) Search(ctx context.Context, query string, mode types.SearchMode, packageType string) ([]types.SearchResult, error) {
	if mode == types.SearchVendor {
		return []types.SearchResult{}, nil
	}
	return r.ArrayRepository.Search(ctx, query, mode, packageType)
}

func (r *PlatformRepository) load(ctx context.Context) error {
	r.libraries = map[string]bool{}
	names := make([]string, 0, len(r.overrides))
	for name := range r.overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if override := r.overrides[name]; !override.Disabled {
			if _, err := r.addOverridden(override, ""); err != nil {
				return err
			}
		}
	}

	facts, err := r.detector.Detect(ctx)
	if err != nil {
		return err
	}

	fixed := []struct {
		name, version, fallback, description string
	}{
		{"composer", facts.ComposerVersion, defaultComposerVersion, "Composer package"},
		{"composer-plugin-api", facts.PluginAPIVersion, defaultPluginAPIVersion, "The Composer Plugin API"},
		{"composer-runtime-api", facts.RuntimeAPIVersion, defaultRuntimeAPIVersion, "The Composer Runtime API"},
	}
	for _, entry := range fixed {
		pretty := entry.version
		if pretty == "" {
			pretty = entry.fallback
		}
		if err := r.addSynthesized(entry.name, pretty, entry.description); err != nil {
			return err
		}
	}

	phpPretty := facts.PHPVersion
	phpVersion, err := semver.Normalize(phpPretty)
	if err != nil {
		phpPretty = phpVersionPrefix.FindString(phpPretty)
		if phpVersion, err = semver.Normalize(phpPretty); err != nil {
			return invalidArgument("cannot parse the detected php version "+facts.PHPVersion, err)
		}
	}
	interpreter := []struct {
		name, description string
		present           bool
	}{
		{"php", "The PHP interpreter", true},
		{"php-debug", "The PHP interpreter, with debugging symbols", facts.Debug},
		{"php-zts", "The PHP interpreter, with Zend Thread Safety", facts.ZTS},
		{"php-64bit", "The PHP interpreter, 64bit", facts.PointerSize == 8},
		{"php-ipv6", "The PHP interpreter, with IPv6 support", facts.IPv6},
	}
	for _, entry := range interpreter {
		if !entry.present {
			continue
		}
		pkg := types.NewCompletePackage(entry.name, phpVersion, phpPretty, semver.ParseStability(phpVersion))
		pkg.SetDescription(entry.description)
		if err := r.add(pkg); err != nil {
			return err
		}
	}

	extensions := make([]string, 0, len(facts.Extensions))
	for name := range facts.Extensions {
		extensions = append(extensions, name)
	}
	sort.Strings(extensions)
	for _, name := range extensions {
		if name == "standard" || name == "Core" {
			continue
		}
		if err := r.addExtension(name, facts.Extensions[name]); err != nil {
			return err
		}
	}
	for _, name := range extensions {
		if err := r.addLibrariesOf(name, facts, extensions); err != nil {
			return err
		}
	}
	count, _ := r.Count(ctx)
	log.Ctx(ctx).Debug().Int("packages", count).Int("disabled", len(r.disabled)).Msg("platform repository loaded")
	return nil
}

func (r *PlatformRepository) addSynthesized(name string, prettyVersion string, description string) error {
	version, err := semver.Normalize(prettyVersion)
	if err != nil {
		return invalidArgument(fmt.Sprintf("invalid %s version %q", name, prettyVersion), err)
	}
	pkg := types.NewCompletePackage(name, version, prettyVersion, semver.ParseStability(version))
	pkg.SetDescription(description)
	return r.add(pkg)
}

// add stores a detected package unless an override replaces or disables it.
func (r *PlatformRepository) add(pkg *types.CompletePackage) error {
	if override, ok := r.overrides[pkg.Name()]; ok {
		if override.Disabled {
			pkg.SetDescription(pkg.Description() + ". Package disabled via config.platform")
			pkg.SetExtra(map[string]any{"config.platform": true})
			r.disabled[pkg.Name()] = pkg
			return nil
		}
		var overrider types.Package
		if loaded := r.ArrayRepository.loadedPackagesNamed(pkg.Name()); len(loaded) > 0 {
			overrider = loaded[0]
		}
		if complete, ok := overrider.(*types.CompletePackage); ok {
			complete.SetDescription(complete.Description() + ", " + actualText(pkg, complete))
		}
		return nil
	}
	if phpOverride, ok := r.overrides["php"]; ok && strings.HasPrefix(pkg.Name(), "php-") {
		overrider, err := r.addOverridden(phpOverride, pkg.PrettyName())
		if err != nil {
			return err
		}
		overrider.SetDescription(overrider.Description() + ", " + actualText(pkg, overrider))
		return nil
	}
	return r.ArrayRepository.AddPackage(pkg)
}

func actualText(detected types.Package, overrider types.Package) string {
	if detected.Version() == overrider.Version() {
		return "same as actual"
	}
	return "actual: " + detected.PrettyVersion()
}

func (r *PlatformRepository) addOverridden(override types.PlatformOverride, name string) (*types.CompletePackage, error) {
	version, err := semver.Normalize(override.Version)
	if err != nil {
		return nil, invalidArgument(fmt.Sprintf("invalid version %q in config.platform.%s", override.Version, override.Name), err)
	}
	if name == "" {
		name = override.Name
	}
	pkg := types.NewCompletePackage(name, version, override.Version, semver.ParseStability(version))
	pkg.SetDescription("Package overridden via config.platform")
	pkg.SetExtra(map[string]any{"config.platform": true})
	if err := r.ArrayRepository.AddPackage(pkg); err != nil {
		return nil, err
	}
	if pkg.Name() == "php" {
		parts := strings.Split(pkg.Version(), ".")
		if len(parts) > 3 {
			parts = parts[:3]
		}
		r.lastPHP = strings.Join(parts, ".")
	}
	return pkg, nil
}

func (r *PlatformRepository) addExtension(name string, prettyVersion string) error {
	extra := ""
	version, err := semver.Normalize(prettyVersion)
	if err != nil {
		extra = " (actual version: " + prettyVersion + ")"
		if match := extensionVersionPrefix.FindStringSubmatch(prettyVersion); match != nil {
			prettyVersion = match[1]
		} else {
			prettyVersion = "0"
		}
		version = semver.MustNormalize(prettyVersion)
	}
	pkg := types.NewCompletePackage("ext-"+strings.ReplaceAll(strings.ToLower(name), " ", "-"), version, prettyVersion, semver.ParseStability(version))
	pkg.SetDescription("The " + name + " PHP extension" + extra)
	pkg.SetType("php-ext")
	if name == "uuid" {
		pkg.SetLinks(types.LinkTypeReplace, map[string]types.Link{
			"lib-uuid": {Source: "ext-uuid", Target: "lib-uuid", Constraint: semver.NewConstraint("=", version), Type: types.LinkTypeReplace, PrettyConstraint: prettyVersion},
		})
	}
	return r.add(pkg)
}

// addLibrary registers lib-<name>. Unparseable versions are skipped.
func (r *PlatformRepository) addLibrary(name string, prettyVersion string, description string, replaces []string, provides []string) error {
	if prettyVersion == "" {
		return nil
	}
	version, err := semver.Normalize(prettyVersion)
	if err != nil {
		return nil
	}
	if r.libraries["lib-"+name] {
		return nil
	}
	r.libraries["lib-"+name] = true
	if description == "" {
		description = "The " + name + " library"
	}
	pkg := types.NewCompletePackage("lib-"+name, version, prettyVersion, semver.ParseStability(version))
	pkg.SetDescription(description)
	links := func(targets []string, linkType types.LinkType) map[string]types.Link {
		out := map[string]types.Link{}
		for _, target := range targets {
			out["lib-"+target] = types.Link{
				Source:           "lib-" + name,
				Target:           "lib-" + target,
				Constraint:       semver.NewConstraint("=", version),
				Type:             linkType,
				PrettyConstraint: prettyVersion,
			}
		}
		return out
	}
	if len(replaces) > 0 {
		pkg.SetLinks(types.LinkTypeReplace, links(replaces, types.LinkTypeReplace))
	}
	if len(provides) > 0 {
		pkg.SetLinks(types.LinkTypeProvide, links(provides, types.LinkTypeProvide))
	}
	return r.add(pkg)
}

var (
	curlSSLInfo       = regexp.MustCompile(`(?im)^SSL Version => ([^/]+)/(.+)$`)
	curlSSHInfo       = regexp.MustCompile(`(?im)^libSSH Version => ([^/]+)/(.+?)(?:/.*)?$`)
	curlZlibInfo      = regexp.MustCompile(`(?im)^ZLib Version => (.+)$`)
	timelibInfo       = regexp.MustCompile(`(?im)^timelib version => (.+)$`)
	zoneinfoSource    = regexp.MustCompile(`(?im)^Timezone Database => (internal|external)$`)
	zoneinfoVersion   = regexp.MustCompile(`(?im)^"Olson" Timezone Database Version => (.+?)(?:\.system)?$`)
	libjpegInfo       = regexp.MustCompile(`(?im)^libJPEG Version => (.+?)(?: compatible)?$`)
	libpngInfo        = regexp.MustCompile(`(?im)^libPNG Version => (.+)$`)
	freetypeInfo      = regexp.MustCompile(`(?im)^FreeType Version => (.+)$`)
	libxpmInfo        = regexp.MustCompile(`(?im)^libXpm Version => (\d+)$`)
	icuInfo           = regexp.MustCompile(`(?im)^ICU version => (.+)$`)
	icuZoneinfoInfo   = regexp.MustCompile(`(?im)^ICU TZData version => (.*)$`)
	libmbflInfo       = regexp.MustCompile(`(?im)^libmbfl version => (.+)$`)
	onigurumaInfo     = regexp.MustCompile(`(?im)^(?:oniguruma|Multibyte regex \(oniguruma\)) version => (.+)$`)
	opensslText       = regexp.MustCompile(`(?i)^(?:OpenSSL|LibreSSL)?\s*(\S+)`)
	pcreUnicodeInfo   = regexp.MustCompile(`(?im)^PCRE Unicode Version => (.+)$`)
	mysqlndInfo       = regexp.MustCompile(`(?im)^(?:Client API version|Version) => mysqlnd (.+?) `)
	sqliteInfo        = regexp.MustCompile(`(?im)^SQLite Library => (.+)$`)
	libxsltLibxmlInfo = regexp.MustCompile(`(?im)^libxslt compiled against libxml Version => (.+)$`)
	zlibLinkedInfo    = regexp.MustCompile(`(?im)^Linked Version => (.+)$`)
	firstWord         = regexp.MustCompile(`^(\S+)`)
)

func submatch(re *regexp.Regexp, text string, group int) (string, bool) {
	match := re.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return strings.TrimRight(match[group], "\r"), true
}

// addLibrariesOf parses the build information of one loaded extension.
func (r *PlatformRepository) addLibrariesOf(name string, facts types.PlatformFacts, loaded []string) error {
	info := facts.ExtensionInfo[name]
	constant := func(key string) string { return facts.Constants[key] }
	var errs []error
	add := func(lib, version, description string, replaces, provides []string) {
		if err := r.addLibrary(lib, version, description, replaces, provides); err != nil {
			errs = append(errs, err)
		}
	}

	switch name {
	case "curl":
		add(name, constant("CURL_VERSION"), "", nil, nil)
		if match := curlSSLInfo.FindStringSubmatch(info); match != nil {
			library := strings.ToLower(match[1])
			sslVersion := strings.TrimRight(match[2], "\r")
			if library == "openssl" {
				if parsed, fips, ok := parseOpenssl(sslVersion); ok {
					lib := name + "-openssl"
					var provides []string
					if fips {
						lib += "-fips"
						provides = []string{"curl-openssl"}
					}
					add(lib, parsed, "curl OpenSSL version ("+parsed+")", nil, provides)
				}
			} else {
				short := library
				if library == "(securetransport) openssl" {
					short = "securetransport"
				}
				add(name+"-"+short, sslVersion, "curl "+library+" version ("+sslVersion+")", []string{"curl-openssl"}, nil)
			}
		}
		if match := curlSSHInfo.FindStringSubmatch(info); match != nil {
			add(name+"-"+strings.ToLower(match[1]), strings.TrimRight(match[2], "\r"), "curl "+match[1]+" version", nil, nil)
		}
		if version, ok := submatch(curlZlibInfo, info, 1); ok {
			add(name+"-zlib", version, "curl zlib version", nil, nil)
		}
	case "date":
		if version, ok := submatch(timelibInfo, info, 1); ok {
			add("date-timelib", version, "date timelib version", nil, nil)
		}
		if source, ok := submatch(zoneinfoSource, info, 1); ok {
			if version, ok := submatch(zoneinfoVersion, info, 1); ok {
				if source == "external" && containsString(loaded, "timezonedb") {
					add("timezonedb-zoneinfo", version, `zoneinfo ("Olson") database for date (replaced by timezonedb)`, []string{name + "-zoneinfo"}, nil)
				} else {
					add(name+"-zoneinfo", version, `zoneinfo ("Olson") database for date`, nil, nil)
				}
			}
		}
	case "gd":
		add(name, constant("GD_VERSION"), "", nil, nil)
		if raw, ok := submatch(libjpegInfo, info, 1); ok {
			if version, ok := parseLibjpeg(raw); ok {
				add(name+"-libjpeg", version, "libjpeg version for gd", nil, nil)
			}
		}
		if version, ok := submatch(libpngInfo, info, 1); ok {
			add(name+"-libpng", version, "libpng version for gd", nil, nil)
		}
		if version, ok := submatch(freetypeInfo, info, 1); ok {
			add(name+"-freetype", version, "freetype version for gd", nil, nil)
		}
		if raw, ok := submatch(libxpmInfo, info, 1); ok {
			if id, err := strconv.Atoi(raw); err == nil {
				add(name+"-libxpm", convertVersionID(id, 100), "libxpm version for gd", nil, nil)
			}
		}
	case "gmp":
		add(name, constant("GMP_VERSION"), "", nil, nil)
	case "iconv":
		add(name, constant("ICONV_VERSION"), "", nil, nil)
	case "intl":
		description := "The ICU unicode and globalization support library"
		if version := constant("INTL_ICU_VERSION"); version != "" {
			add("icu", version, description, nil, nil)
		} else if version, ok := submatch(icuInfo, info, 1); ok {
			add("icu", version, description, nil, nil)
		}
		if raw, ok := submatch(icuZoneinfoInfo, info, 1); ok {
			if version, ok := parseZoneinfoVersion(raw); ok {
				add("icu-zoneinfo", version, `zoneinfo ("Olson") database for icu`, nil, nil)
			}
		}
	case "libxml":
		var provides []string
		for _, ext := range []string{"dom", "simplexml", "xml", "xmlreader", "xmlwriter"} {
			if containsString(loaded, ext) {
				provides = append(provides, ext+"-libxml")
			}
		}
		add(name, constant("LIBXML_DOTTED_VERSION"), "libxml library version", nil, provides)
	case "mbstring":
		if version, ok := submatch(libmbflInfo, info, 1); ok {
			add(name+"-libmbfl", version, "mbstring libmbfl version", nil, nil)
		}
		if version := constant("MB_ONIGURUMA_VERSION"); version != "" {
			add(name+"-oniguruma", version, "mbstring oniguruma version", nil, nil)
		} else if version, ok := submatch(onigurumaInfo, info, 1); ok {
			add(name+"-oniguruma", version, "mbstring oniguruma version", nil, nil)
		}
	case "openssl":
		text := constant("OPENSSL_VERSION_TEXT")
		if raw, ok := submatch(opensslText, text, 1); ok {
			if parsed, fips, ok := parseOpenssl(raw); ok {
				lib := name
				var provides []string
				if fips {
					lib += "-fips"
					provides = []string{name}
				}
				add(lib, parsed, text, nil, provides)
			}
		}
	case "pcre":
		add(name, firstWord.FindString(constant("PCRE_VERSION")), "", nil, nil)
		if version, ok := submatch(pcreUnicodeInfo, info, 1); ok {
			add(name+"-unicode", version, "PCRE Unicode version support", nil, nil)
		}
	case "mysqlnd", "pdo_mysql":
		if version, ok := submatch(mysqlndInfo, info, 1); ok {
			add(name+"-mysqlnd", version, "mysqlnd library version for "+name, nil, nil)
		}
	case "libsodium", "sodium":
		add("libsodium", constant("SODIUM_LIBRARY_VERSION"), "", nil, nil)
	case "sqlite3", "pdo_sqlite":
		if version, ok := submatch(sqliteInfo, info, 1); ok {
			add(name+"-sqlite", version, "", nil, nil)
		}
	case "xsl":
		add("libxslt", constant("LIBXSLT_DOTTED_VERSION"), "", []string{"xsl"}, nil)
		if version, ok := submatch(libxsltLibxmlInfo, info, 1); ok {
			add("libxslt-libxml", version, "libxml version libxslt is compiled against", nil, nil)
		}
	case "zlib":
		if version := constant("ZLIB_VERSION"); version != "" {
			add(name, version, "", nil, nil)
		} else if version, ok := submatch(zlibLinkedInfo, info, 1); ok {
			add(name, version, "", nil, nil)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

var opensslVersion = regexp.MustCompile(`^([0-9.]+)([a-z]{0,2})((?:-?(?:dev|pre|alpha|beta|rc|fips)\d*)*)(?:-\w+)?(?: \(.+?\))?$`)

// parseOpenssl turns "1.0.1t" into "1.0.1.20" and strips the fips marker.
func parseOpenssl(raw string) (string, bool, bool) {
	match := opensslVersion.FindStringSubmatch(raw)
	if match == nil {
		return "", false, false
	}
	patch := ""
	if semver.CompareVersions(match[1], "3.0.0") < 0 {
		patch = "." + strconv.Itoa(alphaToInt(match[2]))
	}
	fips := strings.Contains(match[3], "fips")
	suffix := "-" + strings.TrimLeft(match[3], "-")
	suffix = strings.ReplaceAll(strings.ReplaceAll(suffix, "-fips", ""), "-pre", "-alpha")
	return strings.TrimRight(match[1]+patch+suffix, "-"), fips, true
}

var (
	libjpegVersion  = regexp.MustCompile(`^(\d+)([a-z]*)$`)
	zoneinfoRelease = regexp.MustCompile(`^(\d{4})([a-z]*)$`)
)

func parseLibjpeg(raw string) (string, bool) {
	match := libjpegVersion.FindStringSubmatch(raw)
	if match == nil {
		return "", false
	}
	return match[1] + "." + strconv.Itoa(alphaToInt(match[2])), true
}

func parseZoneinfoVersion(raw string) (string, bool) {
	match := zoneinfoRelease.FindStringSubmatch(raw)
	if match == nil {
		return "", false
	}
	return match[1] + "." + strconv.Itoa(alphaToInt(match[2])), true
}

// alphaToInt maps "" to 0, "a" to 1, "z" to 26 and "za" to 27.
func alphaToInt(alpha string) int {
	total := 0
	for _, c := range alpha {
		total += int(c-'a') + 1
	}
	return total
}

func convertVersionID(id int, base int) string {
	return fmt.Sprintf("%d.%d.%d", id/(base*base), (id/base)%base, id%base)
}

func containsString(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
