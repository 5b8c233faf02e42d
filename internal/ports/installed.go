package ports

import "composer-repos/internal/types"

// InstalledStorePort reads and writes installed.json and composer.lock
// documents, and reads the composer.json manifest next to them.
type InstalledStorePort interface {
	ReadInstalled(path string) (types.InstalledDocument, error)
	WriteInstalled(path string, doc types.InstalledDocument) error
	ReadLock(path string) (types.LockDocument, error)
	ReadManifest(path string) (map[string]any, error)
}
