// Package profile resolves participant ids to display identities with a
// memoizing, lookup-coalescing cache.
//
// The cache is the only engine state shared across conversations: entries
// are keyed by author id and globally valid, so one Resolver is
// constructed per client session and injected into every conversation
// view.
package profile

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/parleychat/parley/internal/backend"
	"github.com/parleychat/parley/internal/chat"
)

// placeholderName is cached for ids whose lookup failed, so one bad id
// cannot trigger repeated lookups within the cache's lifetime.
const placeholderName = "Unknown user"

// Resolver memoizes profile lookups. Safe for concurrent use: the send
// coordinator and the realtime adapter may resolve the same unfamiliar id
// at once, and singleflight guarantees a single upstream lookup.
type Resolver struct {
	directory backend.ProfileDirectory
	local     chat.AuthorProfile

	mu    sync.RWMutex
	cache map[string]chat.AuthorProfile

	inflight singleflight.Group
}

// NewResolver creates a resolver over the given directory. local is the
// session owner's own profile; resolving the owner's id never issues a
// lookup.
func NewResolver(directory backend.ProfileDirectory, local chat.AuthorProfile) *Resolver {
	r := &Resolver{
		directory: directory,
		local:     normalize(local),
		cache:     make(map[string]chat.AuthorProfile),
	}
	r.cache[local.ID] = r.local
	return r
}

// Resolve returns the display identity for authorID, from cache when
// possible. A failed lookup caches a stable placeholder profile and
// reports success: rendering always has something to show, and the id is
// not retried until the cache is rebuilt.
func (r *Resolver) Resolve(ctx context.Context, authorID string) chat.AuthorProfile {
	r.mu.RLock()
	cached, ok := r.cache[authorID]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	v, _, _ := r.inflight.Do(authorID, func() (any, error) {
		// Re-check under the write path: a concurrent Do for the same id
		// may have populated the cache between RUnlock and here.
		r.mu.RLock()
		p, ok := r.cache[authorID]
		r.mu.RUnlock()
		if ok {
			return p, nil
		}

		p = r.lookup(ctx, authorID)
		r.mu.Lock()
		r.cache[authorID] = p
		r.mu.Unlock()
		return p, nil
	})
	return v.(chat.AuthorProfile)
}

// Cached reports whether authorID is already resolved, without side
// effects. Used by tests and UI prefetch heuristics.
func (r *Resolver) Cached(authorID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.cache[authorID]
	return ok
}

// LocalUserID returns the session owner's id.
func (r *Resolver) LocalUserID() string { return r.local.ID }

// lookup never fails: a directory error is logged and mapped to a stable
// placeholder profile.
func (r *Resolver) lookup(ctx context.Context, authorID string) chat.AuthorProfile {
	p, err := r.directory.Lookup(ctx, authorID)
	if err != nil {
		slog.Warn("profile lookup failed, caching placeholder",
			"author_id", authorID,
			"error", err,
		)
		return chat.AuthorProfile{ID: authorID, DisplayName: placeholderName}
	}
	p.ID = authorID
	return normalize(p)
}

// normalize puts display names into NFC so visually identical names cache
// and render identically regardless of the directory's encoding.
func normalize(p chat.AuthorProfile) chat.AuthorProfile {
	p.DisplayName = norm.NFC.String(p.DisplayName)
	return p
}
