package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

const envPrefix = "COMPOSER_REPOS"

type RootConfig struct {
	ConfigFile       string
	LogLevel         string
	CacheDir         string
	CacheBackend     string
	CacheReadOnly    bool
	CacheTTLSeconds  int
	RedisAddr        string
	MinimumStability string
	PlatformFile     string
	PHPBinary        string
	RepositoryURLs   []string
	DisablePackagist bool
	HTTPTimeout      int
	HTTPRetries      int
	HTTPWorkers      int
	SecureHTTP       bool
	MetricsAddr      string
}

func Execute() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", errorMessage(err))
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	cfg := RootConfig{}
	cmd := &cobra.Command{
		Use:           "composer-repos",
		Short:         "Query Composer package repositories",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfg.ConfigFile); err != nil {
				return err
			}
			setupLogging(viper.GetString("log_level"))
			logger := log.With().Str("run_id", uuid.NewString()).Logger()
			cmd.SetContext(logger.WithContext(cmd.Context()))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.ConfigFile, "config", "", "Config file path")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "Log level")
	flags.StringVar(&cfg.CacheDir, "cache-dir", defaultCacheDir(), "Cache directory")
	flags.StringVar(&cfg.CacheBackend, "cache-backend", "file", "Metadata cache backend (file, redis, memory, none)")
	flags.BoolVar(&cfg.CacheReadOnly, "cache-read-only", false, "Never write to the metadata cache")
	flags.IntVar(&cfg.CacheTTLSeconds, "cache-ttl-seconds", 0, "Expiry of redis and memory cache entries (0 keeps them)")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", "", "Redis address for the redis cache backend")
	flags.StringVar(&cfg.MinimumStability, "minimum-stability", "stable", "Minimum accepted stability")
	flags.StringVar(&cfg.PlatformFile, "platform-file", "", "YAML description of the platform instead of probing php")
	flags.StringVar(&cfg.PHPBinary, "php-binary", "php", "PHP binary probed for platform packages")
	flags.StringSliceVar(&cfg.RepositoryURLs, "repository-url", nil, "Additional composer repository URL(s)")
	flags.BoolVar(&cfg.DisablePackagist, "disable-packagist", false, "Do not query packagist.org")
	flags.IntVar(&cfg.HTTPTimeout, "http-timeout-seconds", 30, "HTTP request timeout")
	flags.IntVar(&cfg.HTTPRetries, "http-retries", 2, "Retries for failed HTTP requests")
	flags.IntVar(&cfg.HTTPWorkers, "http-workers", 0, "Concurrent metadata downloads (0 uses the default)")
	flags.BoolVar(&cfg.SecureHTTP, "secure-http", true, "Refuse plain http repository URLs")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")

	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("cache_dir", flags.Lookup("cache-dir"))
	_ = viper.BindPFlag("cache_backend", flags.Lookup("cache-backend"))
	_ = viper.BindPFlag("cache_read_only", flags.Lookup("cache-read-only"))
	_ = viper.BindPFlag("cache_ttl_seconds", flags.Lookup("cache-ttl-seconds"))
	_ = viper.BindPFlag("redis_addr", flags.Lookup("redis-addr"))
	_ = viper.BindPFlag("minimum_stability", flags.Lookup("minimum-stability"))
	_ = viper.BindPFlag("platform_file", flags.Lookup("platform-file"))
	_ = viper.BindPFlag("php_binary", flags.Lookup("php-binary"))
	_ = viper.BindPFlag("repository_urls", flags.Lookup("repository-url"))
	_ = viper.BindPFlag("disable_packagist", flags.Lookup("disable-packagist"))
	_ = viper.BindPFlag("http_timeout_seconds", flags.Lookup("http-timeout-seconds"))
	_ = viper.BindPFlag("http_retries", flags.Lookup("http-retries"))
	_ = viper.BindPFlag("http_workers", flags.Lookup("http-workers"))
	_ = viper.BindPFlag("secure_http", flags.Lookup("secure-http"))
	_ = viper.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))

	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newSearchCommand())
	cmd.AddCommand(newAdvisoriesCommand())
	cmd.AddCommand(newPlatformCommand())
	cmd.AddCommand(newDependsCommand())
	cmd.AddCommand(newCacheCommand())
	return cmd
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read config file").
				WithCause(err)
		}
		return nil
	}

	viper.SetConfigName("composer-repos")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/composer-repos")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to read config file").
			WithCause(err)
	}
	return nil
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func defaultCacheDir() string {
	if dir := os.Getenv("COMPOSER_CACHE_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "composer-repos")
	}
	return filepath.Join(base, "composer-repos")
}

func exitCodeForError(err error) int {
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument, errbuilder.CodeAlreadyExists:
		return 2
	case errbuilder.CodePermissionDenied:
		return 3
	case errbuilder.CodeFailedPrecondition:
		return 4
	case errbuilder.CodeNotFound, errbuilder.CodeInternal:
		return 5
	default:
		return 1
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}
