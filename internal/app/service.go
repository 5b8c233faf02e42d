package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"composer-repos/internal/adapters"
	"composer-repos/internal/core"
	"composer-repos/internal/ports"
	"composer-repos/internal/types"
)

const (
	CacheBackendFile   = "file"
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
	CacheBackendNone   = "none"

	// PackagistURL is appended to the configured repositories unless
	// DisablePackagist is set.
	PackagistURL = "https://repo.packagist.org"
)

// Config is the resolved configuration of one run.
type Config struct {
	CacheDir         string
	CacheBackend     string
	CacheReadOnly    bool
	CacheTTL         time.Duration
	RedisAddr        string
	MinimumStability string
	StabilityFlags   map[string]string
	Platform         map[string]any
	PlatformFile     string
	PHPBinary        string
	Repositories     []types.RepositoryConfig
	DisablePackagist bool
	HTTPTimeout      time.Duration
	HTTPRetries      int
	HTTPWorkers      int
	UserAgent        string
	SecureHTTP       bool

	// HostAuthorization maps a host to the Authorization header sent to it.
	HostAuthorization map[string]string
}

type Service struct {
	Config       Config
	HTTP         ports.HTTPDownloaderPort
	Metrics      *adapters.Metrics
	Installed    ports.InstalledStorePort
	Detector     ports.PlatformDetectorPort
	Reports      ports.ReportWriterPort
	VcsDrivers   ports.VcsDriverFactoryPort
	VersionCache ports.VersionCachePort
	CacheFor     func(namespace string) (ports.CachePort, error)

	redis redis.UniversalClient
	git   *adapters.GitDriverFactory
}

func NewService(cfg Config) (Service, error) {
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = CacheBackendFile
	}
	metrics := adapters.NewMetrics()
	opts := []adapters.HTTPOption{
		adapters.WithHTTPRetries(cfg.HTTPRetries, 0),
		adapters.WithMetrics(metrics),
		adapters.WithSecureHTTP(cfg.SecureHTTP),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, adapters.WithUserAgent(cfg.UserAgent))
	}
	for host, value := range cfg.HostAuthorization {
		opts = append(opts, adapters.WithHostAuthorization(host, value))
	}

	service := Service{
		Config:       cfg,
		HTTP:         adapters.NewHTTPDownloaderAdapter(cfg.HTTPTimeout, opts...),
		Metrics:      metrics,
		Installed:    adapters.NewInstalledStoreAdapter(),
		Reports:      adapters.NewReportWriterAdapter(),
		VersionCache: adapters.NewVersionCacheFileAdapter(subdir(cfg.CacheDir, "versions")),
	}
	service.git = adapters.NewGitDriverFactory(cfg.CacheDir)
	service.VcsDrivers = service.git
	if cfg.PlatformFile != "" {
		service.Detector = adapters.NewStaticPlatformDetector(cfg.PlatformFile)
	} else {
		service.Detector = adapters.NewPHPPlatformDetector(cfg.PHPBinary)
	}

	switch cfg.CacheBackend {
	case CacheBackendFile:
		root := subdir(cfg.CacheDir, "repo")
		service.CacheFor = func(namespace string) (ports.CachePort, error) {
			return adapters.NewFileCacheAdapter(root, namespace, cfg.CacheReadOnly, metrics), nil
		}
	case CacheBackendRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return Service{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("redis cache backend requires redis_addr")
		}
		service.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		service.CacheFor = func(namespace string) (ports.CachePort, error) {
			return adapters.NewRedisCacheAdapter(service.redis, namespace, cfg.CacheTTL, cfg.CacheReadOnly, metrics), nil
		}
	case CacheBackendMemory:
		service.CacheFor = func(string) (ports.CachePort, error) {
			return adapters.NewMemoryCacheAdapter(0, cfg.CacheTTL, metrics), nil
		}
	case CacheBackendNone:
		service.CacheFor = func(namespace string) (ports.CachePort, error) {
			return adapters.NewFileCacheAdapter("", namespace, true, metrics), nil
		}
	default:
		return Service{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported cache backend: %s", cfg.CacheBackend))
	}
	return service, nil
}

// Close releases the redis client and temporary vcs mirrors.
func (s Service) Close() error {
	var firstErr error
	if s.git != nil {
		firstErr = s.git.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WriteReport renders value to path through the report writer.
func (s Service) WriteReport(path string, format string, value any) error {
	return s.Reports.Write(path, format, value)
}

func (s Service) factory(ctx context.Context) *core.RepositoryFactory {
	return core.NewRepositoryFactory(core.RepositoryCollaborators{
		HTTP:     s.HTTP,
		CacheFor: s.CacheFor,
		Workers:  s.Config.HTTPWorkers,
		OnDegraded: func(repoName string) {
			s.Metrics.ObserveDegraded(repoName)
			log.Ctx(ctx).Warn().Str("repository", repoName).Msg("serving cached metadata, the repository could not be reached")
		},
		VcsDrivers:   s.VcsDrivers,
		VersionCache: s.VersionCache,
		PackageIndex: packageIndexFor,
	})
}

func packageIndexFor(config types.RepositoryConfig) (ports.PackageIndexPort, error) {
	location := config.Path
	if location == "" {
		location = config.URL
	}
	if strings.TrimSpace(location) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("%s repository requires a path", config.Type))
	}
	if config.Type == types.RepositoryTypePath {
		return adapters.NewPathManifestAdapter(location), nil
	}
	return adapters.NewPackageIndexFileAdapter(location), nil
}

// repositoryConfigs lists the configured repositories followed by
// packagist unless it was disabled.
func (s Service) repositoryConfigs() []types.RepositoryConfig {
	configs := append([]types.RepositoryConfig(nil), s.Config.Repositories...)
	if s.Config.DisablePackagist {
		return configs
	}
	for _, config := range configs {
		if config.Type == types.RepositoryTypeComposer && strings.TrimRight(config.URL, "/") == PackagistURL {
			return configs
		}
	}
	return append(configs, types.RepositoryConfig{Type: types.RepositoryTypeComposer, Name: "packagist.org", URL: PackagistURL})
}

func (s Service) repositories(ctx context.Context) ([]core.Repository, error) {
	return s.factory(ctx).CreateAll(ctx, s.repositoryConfigs())
}

func (s Service) platformRepository() (*core.PlatformRepository, error) {
	overrides, err := core.ParsePlatformOverrides(s.Config.Platform)
	if err != nil {
		return nil, err
	}
	return core.NewPlatformRepository(s.Detector, overrides)
}

func (s Service) stabilityOptions() (core.RepositorySetOptions, error) {
	options := core.RepositorySetOptions{StabilityFlags: map[string]types.Stability{}}
	if s.Config.MinimumStability != "" {
		stability, ok := types.ParseStabilityName(s.Config.MinimumStability)
		if !ok {
			return core.RepositorySetOptions{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid minimum stability %q", s.Config.MinimumStability))
		}
		options.MinimumStability = stability
	}
	for name, value := range s.Config.StabilityFlags {
		stability, ok := types.ParseStabilityName(value)
		if !ok {
			return core.RepositorySetOptions{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid stability flag %q for %s", value, name))
		}
		options.StabilityFlags[name] = stability
	}
	return options, nil
}

// repositorySet builds a set over the configured repositories. The
// platform repository goes first when withPlatform is set.
func (s Service) repositorySet(ctx context.Context, withPlatform bool) (*core.RepositorySet, error) {
	options, err := s.stabilityOptions()
	if err != nil {
		return nil, err
	}
	set, err := core.NewRepositorySet(options)
	if err != nil {
		return nil, err
	}
	if withPlatform {
		platform, err := s.platformRepository()
		if err != nil {
			return nil, err
		}
		if err := set.AddRepository(platform); err != nil {
			return nil, err
		}
	}
	repos, err := s.repositories(ctx)
	if err != nil {
		return nil, err
	}
	for _, repo := range repos {
		if err := set.AddRepository(repo); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// CachePaths describes where each kind of cached data lives.
func (s Service) CachePaths() CachePathsResult {
	return CachePathsResult{
		Backend:  s.Config.CacheBackend,
		Root:     s.Config.CacheDir,
		Repo:     subdir(s.Config.CacheDir, "repo"),
		Vcs:      subdir(s.Config.CacheDir, "vcs"),
		Versions: subdir(s.Config.CacheDir, "versions"),
	}
}

// ClearCache drops repository metadata, vcs mirrors and cached vcs
// versions.
func (s Service) ClearCache(ctx context.Context) (CachePathsResult, error) {
	paths := s.CachePaths()
	if s.Config.CacheReadOnly {
		return paths, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("the cache is read-only")
	}
	switch s.Config.CacheBackend {
	case CacheBackendFile:
		if paths.Repo != "" {
			if err := adapters.NewFileCacheAdapter(paths.Repo, "", false, s.Metrics).Clear(ctx); err != nil {
				return paths, err
			}
		}
	case CacheBackendRedis:
		if err := adapters.NewRedisCacheAdapter(s.redis, "", 0, false, s.Metrics).Clear(ctx); err != nil {
			return paths, err
		}
	}
	if paths.Vcs != "" {
		if err := os.RemoveAll(paths.Vcs); err != nil {
			return paths, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to clear vcs mirrors").
				WithCause(err)
		}
	}
	if cache, ok := s.VersionCache.(adapters.VersionCacheFileAdapter); ok {
		if err := cache.Clear(); err != nil {
			return paths, err
		}
	}
	log.Ctx(ctx).Info().Str("backend", paths.Backend).Str("path", paths.Root).Msg("cache cleared")
	return paths, nil
}

func subdir(root string, name string) string {
	if strings.TrimSpace(root) == "" {
		return ""
	}
	return filepath.Join(root, name)
}
