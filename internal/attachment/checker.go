package attachment

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the number of references resolved at once.
const DefaultConcurrency = 8

// Resolver reports whether a blob reference resolves to existing content.
type Resolver interface {
	Exists(ctx context.Context, accountID, blobID string) (bool, error)
}

// Checker verifies that every attachment reference of a message resolves.
type Checker struct {
	resolver Resolver
	limit    int
}

// NewChecker creates a Checker resolving at most limit references at once.
func NewChecker(resolver Resolver, limit int) *Checker {
	if limit < 1 {
		limit = DefaultConcurrency
	}
	return &Checker{resolver: resolver, limit: limit}
}

// Missing returns every reference in blobIDs that does not resolve, in input
// order. Duplicate references are checked once. A resolver error aborts the
// check.
func (c *Checker) Missing(ctx context.Context, accountID string, blobIDs []string) ([]string, error) {
	if len(blobIDs) == 0 {
		return nil, nil
	}

	found := make([]bool, len(blobIDs))
	first := make(map[string]int, len(blobIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for i, id := range blobIDs {
		if _, dup := first[id]; dup {
			continue
		}
		first[id] = i
		g.Go(func() error {
			ok, err := c.resolver.Exists(ctx, accountID, id)
			if err != nil {
				return err
			}
			found[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var missing []string
	for i, id := range blobIDs {
		if first[id] == i && !found[i] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
