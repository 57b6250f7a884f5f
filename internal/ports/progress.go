package ports

import "context"

// ProgressStore keeps the last reported progress of long running stages so
// another process (CLI poller, HTTP client) can read it while the stage runs.
type ProgressStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
