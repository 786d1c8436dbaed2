package manager

import lru "github.com/hashicorp/golang-lru/v2"

// dedupCache resolves spec.md §9's flagged-but-unused cross-shard
// CloseConnections dedup capability: every shard's Stop shares one instance,
// so a descriptor that straddles a shard migration or duplicate-submission
// race is only closed by whichever shard observes it first.
type dedupCache struct {
	cache *lru.Cache[uintptr, struct{}]
}

func newDedupCache(size int) *dedupCache {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[uintptr, struct{}](size)
	return &dedupCache{cache: c}
}

// ShouldClose reports whether the caller should proceed to close id; false
// means another shard already claimed it. Structurally satisfies
// mselector's unexported dedupSet contract. Uses ContainsOrAdd rather than
// a separate Contains-then-Add pair, since concurrent shards racing the same
// id during Stop would otherwise both observe a miss and both proceed to
// close it.
func (d *dedupCache) ShouldClose(id uintptr) bool {
	alreadyPresent, _ := d.cache.ContainsOrAdd(id, struct{}{})
	return !alreadyPresent
}
