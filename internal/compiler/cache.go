package compiler

import (
	"context"

	"github.com/zjrosen/agentmap/internal/bundle"
	"github.com/zjrosen/agentmap/internal/cachemanager"
)

// cacheLookup is what the bundle loader needs on a cache miss.
type cacheLookup struct {
	store *bundle.Store
	name  string
	hash  string
}

// cacheKey includes the hash so a changed source never hits an old entry.
func cacheKey(store *bundle.Store, name, hash string) string {
	return store.Dir() + "\x00" + name + "\x00" + hash
}

func (s *Service) newBundleCache(c cachemanager.CacheManager[string, *bundle.Bundle]) *cachemanager.ReadThroughCache[string, *bundle.Bundle, cacheLookup] {
	return cachemanager.NewReadThroughCache(c, loadVerified, s.cfg.CacheTTL, s.cfg.CacheTTL < 0)
}

func loadVerified(_ context.Context, in cacheLookup) (*bundle.Bundle, error) {
	b, err := in.store.LoadVerified(in.name, in.hash)
	if err != nil {
		return nil, err
	}
	return b, nil
}
