package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"composer-repos/internal/ports"
	"composer-repos/internal/shared"
	"composer-repos/internal/types"
)

// platformProbe prints the runtime facts as JSON. Extension info is the
// plain text phpinfo section of each extension.
const platformProbe = `
$constants = [];
foreach (['OPENSSL_VERSION_TEXT', 'INTL_ICU_VERSION', 'LIBXML_DOTTED_VERSION', 'LIBXSLT_DOTTED_VERSION',
    'PCRE_VERSION', 'ZLIB_VERSION', 'ICONV_VERSION', 'GMP_VERSION', 'GD_VERSION', 'SODIUM_LIBRARY_VERSION',
    'MB_ONIGURUMA_VERSION'] as $name) {
    if (defined($name)) { $constants[$name] = (string) constant($name); }
}
if (function_exists('curl_version')) { $constants['CURL_VERSION'] = curl_version()['version']; }
$extensions = [];
$info = [];
foreach (get_loaded_extensions() as $name) {
    $extensions[$name] = (string) phpversion($name);
    ob_start();
    (new ReflectionExtension($name))->info();
    $info[strtolower($name)] = (string) ob_get_clean();
}
echo json_encode([
    'php_version' => PHP_VERSION,
    'pointer_size' => PHP_INT_SIZE,
    'ipv6' => defined('AF_INET6') || @inet_pton('::') !== false,
    'zts' => defined('PHP_ZTS') && PHP_ZTS,
    'debug' => PHP_DEBUG === 1,
    'extensions' => (object) $extensions,
    'extension_info' => (object) $info,
    'constants' => (object) $constants,
]);
`

// PHPPlatformDetector asks the php binary about itself.
type PHPPlatformDetector struct {
	Binary string
}

func NewPHPPlatformDetector(binary string) PHPPlatformDetector {
	if strings.TrimSpace(binary) == "" {
		binary = "php"
	}
	return PHPPlatformDetector{Binary: binary}
}

func (d PHPPlatformDetector) Detect(ctx context.Context) (types.PlatformFacts, error) {
	cmd := exec.CommandContext(ctx, d.Binary, "-d", "display_errors=stderr", "-r", platformProbe)
	output, err := cmd.Output()
	if err != nil {
		var stderr []byte
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = exitErr.Stderr
		}
		return types.PlatformFacts{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("failed to inspect the php runtime with " + d.Binary).
			WithCause(shared.CommandError(stderr, err))
	}
	var facts types.PlatformFacts
	if err := json.Unmarshal(output, &facts); err != nil {
		return types.PlatformFacts{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("unexpected php runtime description").
			WithCause(err)
	}
	log.Ctx(ctx).Debug().Str("php", facts.PHPVersion).Int("extensions", len(facts.Extensions)).Msg("php runtime detected")
	return facts, nil
}

// StaticPlatformDetector reads the facts from a YAML file, for machines
// without php or to reproduce another machine's platform.
type StaticPlatformDetector struct {
	Path string
}

func NewStaticPlatformDetector(path string) StaticPlatformDetector {
	return StaticPlatformDetector{Path: path}
}

type platformFile struct {
	PHPVersion    string            `yaml:"php_version"`
	PointerSize   int               `yaml:"pointer_size"`
	IPv6          bool              `yaml:"ipv6"`
	ZTS           bool              `yaml:"zts"`
	Debug         bool              `yaml:"debug"`
	Extensions    map[string]string `yaml:"extensions"`
	ExtensionInfo map[string]string `yaml:"extension_info"`
	Constants     map[string]string `yaml:"constants"`
}

func (d StaticPlatformDetector) Detect(context.Context) (types.PlatformFacts, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return types.PlatformFacts{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("platform file not found").
			WithCause(err)
	}
	var file platformFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return types.PlatformFacts{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid platform file format").
			WithCause(err)
	}
	if file.PHPVersion == "" {
		return types.PlatformFacts{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("platform file has no php_version")
	}
	if file.PointerSize == 0 {
		file.PointerSize = 8
	}
	return types.PlatformFacts{
		PHPVersion:    file.PHPVersion,
		PointerSize:   file.PointerSize,
		IPv6:          file.IPv6,
		ZTS:           file.ZTS,
		Debug:         file.Debug,
		Extensions:    file.Extensions,
		ExtensionInfo: file.ExtensionInfo,
		Constants:     file.Constants,
	}, nil
}

var (
	_ ports.PlatformDetectorPort = PHPPlatformDetector{}
	_ ports.PlatformDetectorPort = StaticPlatformDetector{}
)
