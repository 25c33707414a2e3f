package identity

import (
	"context"
	"time"

	"shameScope/internal/model"
)

// Provider resolves many addresses in one call. Implementations return
// profiles keyed by canonical address and omit addresses they know nothing
// about.
type Provider interface {
	Name() string
	Source() model.Source
	MaxBatch() int
	MinInterval() time.Duration
	ResolveBulk(ctx context.Context, addresses []string) (map[string]model.Profile, error)
}
