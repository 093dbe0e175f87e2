package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zotero-metadata/internal/store"
)

// openStore opens the run history database. It returns nil when the store is
// disabled by an empty path.
func openStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
