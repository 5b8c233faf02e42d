package cli

import (
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"composer-repos/internal/app"
	"composer-repos/internal/types"
)

// newAppService builds the service from the merged flag, env and file
// configuration. The caller closes it.
func newAppService(cmd *cobra.Command) (app.Service, error) {
	cfg, err := serviceConfig()
	if err != nil {
		return app.Service{}, err
	}
	service, err := app.NewService(cfg)
	if err != nil {
		return app.Service{}, err
	}
	if addr := strings.TrimSpace(viper.GetString("metrics_addr")); addr != "" {
		ctx := cmd.Context()
		go func() {
			if err := service.Metrics.Serve(ctx, addr); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("addr", addr).Msg("metrics endpoint stopped")
			}
		}()
	}
	return service, nil
}

func serviceConfig() (app.Config, error) {
	var repositories []types.RepositoryConfig
	if err := viper.UnmarshalKey("repositories", &repositories); err != nil {
		return app.Config{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid repositories configuration").
			WithCause(err)
	}
	for _, url := range viper.GetStringSlice("repository_urls") {
		if url = strings.TrimSpace(url); url != "" {
			repositories = append(repositories, types.RepositoryConfig{Type: types.RepositoryTypeComposer, URL: url})
		}
	}
	return app.Config{
		CacheDir:          viper.GetString("cache_dir"),
		CacheBackend:      viper.GetString("cache_backend"),
		CacheReadOnly:     viper.GetBool("cache_read_only"),
		CacheTTL:          time.Duration(viper.GetInt("cache_ttl_seconds")) * time.Second,
		RedisAddr:         viper.GetString("redis_addr"),
		MinimumStability:  viper.GetString("minimum_stability"),
		StabilityFlags:    viper.GetStringMapString("stability_flags"),
		Platform:          viper.GetStringMap("platform"),
		PlatformFile:      viper.GetString("platform_file"),
		PHPBinary:         viper.GetString("php_binary"),
		Repositories:      repositories,
		DisablePackagist:  viper.GetBool("disable_packagist"),
		HTTPTimeout:       time.Duration(viper.GetInt("http_timeout_seconds")) * time.Second,
		HTTPRetries:       viper.GetInt("http_retries"),
		HTTPWorkers:       viper.GetInt("http_workers"),
		UserAgent:         "composer-repos/" + version,
		SecureHTTP:        viper.GetBool("secure_http"),
		HostAuthorization: viper.GetStringMapString("http_authorization"),
	}, nil
}

func resolveString(cmd *cobra.Command, value string, key string, flagName string) string {
	if cmd == nil {
		if value != "" {
			return value
		}
		return viper.GetString(key)
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetString(key)
}

func resolveBool(cmd *cobra.Command, value bool, key string, flagName string) bool {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetBool(key)
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag.Changed
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		return flag.Changed
	}
	return false
}
