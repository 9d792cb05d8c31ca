// Per-subject string flags. The moderation engine records warning-only rule results here (keyed by submission ID) when a submission is cleared.
package flagstore

import (
	"context"
)

type FlagStore interface {
	// Sorted flags of the key; empty (not nil) if there are none.
	Get(ctx context.Context, key string) ([]string, error)
	// Adds flags to the key's set. Adding a flag which is already present is a no-op.
	Add(ctx context.Context, key string, flags []string) error
}
