package store

import (
	"fmt"
	"path/filepath"

	"github.com/xseries/mailclerk/internal/types"
)

// Open constructs a thread store for the configured backend rooted
// under dataDir.
func Open(backend, dataDir string) (types.ThreadStore, error) {
	switch backend {
	case "", "file":
		return NewFileStore(dataDir)
	case "pebble":
		return NewPebbleStore(filepath.Join(dataDir, "threads.pebble"))
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
