package ports

import (
	"context"

	"composer-repos/internal/types"
)

// PlatformDetectorPort inspects the PHP runtime.
type PlatformDetectorPort interface {
	Detect(ctx context.Context) (types.PlatformFacts, error)
}
