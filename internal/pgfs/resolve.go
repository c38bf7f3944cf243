package pgfs

import (
	"context"
	"strings"
)

// resolvePath walks path component by component from the root, the same
// way psql_path_to_id tokenizes on "/" and follows dir.parent_id/name
// lookups. Only internal callers that still think in terms of whole paths
// (mount-time sanity checks, tests) use this; the fuse-facing dispatcher
// above this package addresses everything by inode id instead, since the
// kernel already resolves one component at a time via LookUpInode.
func resolvePath(ctx context.Context, store Store, path string) (int64, Meta, error) {
	id := RootID
	meta, err := store.ReadMeta(ctx, id)
	if err != nil {
		return 0, Meta{}, err
	}

	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		if !meta.IsDir() {
			return 0, Meta{}, ErrNotDir
		}
		childID, _, err := store.LookupChild(ctx, id, name)
		if err != nil {
			return 0, Meta{}, err
		}
		meta, err = store.ReadMeta(ctx, childID)
		if err != nil {
			return 0, Meta{}, err
		}
		id = childID
	}
	return id, meta, nil
}
