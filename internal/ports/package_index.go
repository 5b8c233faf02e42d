package ports

import "composer-repos/internal/types"

type PackageIndexPort interface {
	Load() (types.PackageIndexFile, error)
}
