// Package referral walks the referral forest upward from an account.
package referral

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// ParentLookup resolves the referrer of an account. It returns "" for a
// root account and an error wrapping sql.ErrNoRows when the account does
// not exist.
type ParentLookup interface {
	Referrer(ctx context.Context, accountID string) (string, error)
}

// Ancestor is one step of a chain. Level 1 is the immediate referrer.
type Ancestor struct {
	AccountID string
	Level     int
}

// Walker produces ancestor chains. Parent links are cached in an LRU so that
// overlapping chains within a run hit the ledger once per account.
//
// The cache assumes links do not change while it is warm; callers that
// rewire referrers call Purge.
type Walker struct {
	lookup ParentLookup
	cache  *lru.Cache[string, string]
	logger *slog.Logger
}

// NewWalker creates a walker. cacheSize <= 0 uses a default size; a nil
// logger uses slog.Default().
func NewWalker(lookup ParentLookup, cacheSize int, logger *slog.Logger) (*Walker, error) {
	if lookup == nil {
		return nil, errors.New("referral: nil parent lookup")
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("referral: create cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{lookup: lookup, cache: cache, logger: logger}, nil
}

// Ancestors yields up to maxDepth ancestors of accountID, level 1 first.
//
// The sequence ends early when:
//   - an account has no referrer
//   - a referrer does not exist in the ledger (missing link)
//   - a referrer was already visited, the source account included (cycle)
//
// Each ancestor is yielded only after its own record was found, so a
// dangling reference never produces a beneficiary. A lookup failure is
// yielded as the final element with a zero Ancestor.
func (w *Walker) Ancestors(ctx context.Context, accountID string, maxDepth int) iter.Seq2[Ancestor, error] {
	return func(yield func(Ancestor, error) bool) {
		if maxDepth <= 0 {
			return
		}
		visited := map[string]struct{}{accountID: {}}

		parent, err := w.parent(ctx, accountID)
		if err != nil {
			yield(Ancestor{}, fmt.Errorf("walk %s: %w", accountID, err))
			return
		}

		for level := 1; level <= maxDepth && parent != ""; level++ {
			if err := ctx.Err(); err != nil {
				yield(Ancestor{}, err)
				return
			}
			if _, seen := visited[parent]; seen {
				w.logger.Warn("referral cycle detected",
					"account", accountID,
					"repeat", parent,
					"level", level)
				return
			}
			visited[parent] = struct{}{}

			// Resolving the next link also proves the ancestor exists.
			next, err := w.parent(ctx, parent)
			if errors.Is(err, sql.ErrNoRows) {
				w.logger.Warn("referral chain broken",
					"account", accountID,
					"missing", parent,
					"level", level)
				return
			}
			if err != nil {
				yield(Ancestor{}, fmt.Errorf("walk %s at level %d: %w", accountID, level, err))
				return
			}

			if !yield(Ancestor{AccountID: parent, Level: level}, nil) {
				return
			}
			parent = next
		}
	}
}

// Chain collects Ancestors into a slice.
func (w *Walker) Chain(ctx context.Context, accountID string, maxDepth int) ([]Ancestor, error) {
	var chain []Ancestor
	for a, err := range w.Ancestors(ctx, accountID, maxDepth) {
		if err != nil {
			return chain, err
		}
		chain = append(chain, a)
	}
	return chain, nil
}

// Purge drops every cached link.
func (w *Walker) Purge() {
	w.cache.Purge()
}

func (w *Walker) parent(ctx context.Context, accountID string) (string, error) {
	if p, ok := w.cache.Get(accountID); ok {
		return p, nil
	}
	p, err := w.lookup.Referrer(ctx, accountID)
	if err != nil {
		return "", err
	}
	w.cache.Add(accountID, p)
	return p, nil
}
