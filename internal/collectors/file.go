package collectors

import (
	"context"

	"ingest-quality-service/internal/loaders"
	"ingest-quality-service/internal/record"
)

// FileFetcher reads a batch from a local file or directory on every sync.
type FileFetcher struct {
	Path    string
	Options loaders.Options
}

// Fetch loads the configured path.
func (f *FileFetcher) Fetch(ctx context.Context) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return loaders.LoadPath(f.Path, f.Options)
}
