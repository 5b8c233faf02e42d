package app

import (
	"context"

	"composer-repos/internal/shared"
)

// Platform lists the packages synthesized from the PHP runtime with
// config.platform overrides applied.
func (s Service) Platform(ctx context.Context) (PlatformResult, error) {
	repo, err := s.platformRepository()
	if err != nil {
		return PlatformResult{}, err
	}
	packages, err := repo.GetPackages(ctx)
	if err != nil {
		return PlatformResult{}, err
	}
	disabled, err := repo.GetDisabledPackages(ctx)
	if err != nil {
		return PlatformResult{}, err
	}
	return PlatformResult{
		Packages: summarizePackages(packages),
		Disabled: shared.SortedKeys(disabled),
		PHP:      repo.LastSeenPlatformPHP(),
	}, nil
}
