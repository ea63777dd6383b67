package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openkokkai/billtracker/observability"
	"github.com/openkokkai/billtracker/store"
	"github.com/openkokkai/billtracker/taskqueue"
)

// refreshTimeout bounds a single background revalidation job.
const refreshTimeout = 30 * time.Second

// LoaderFunc produces the fresh value for a cache entry. The result is
// JSON-marshalled before storage.
type LoaderFunc func(ctx context.Context) (any, error)

// Stats is the /admin/cache/stats payload.
type Stats struct {
	Degraded  bool           `json:"degraded"`
	Keys      map[string]int `json:"keys"`
	TotalKeys int            `json:"total_keys"`
}

// MemberCache is the domain cache in front of the record store's member
// data. Reads are read-through; entries past the stale threshold are
// served as-is while a refresh runs through the task queue at high
// priority. Concurrent stale reads of the same key coalesce to one
// refresh job.
type MemberCache struct {
	cache *Cache
	store store.Store
	queue *taskqueue.Queue

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewMemberCache(c *Cache, st store.Store, q *taskqueue.Queue) *MemberCache {
	return &MemberCache{cache: c, store: st, queue: q, inflight: make(map[string]struct{})}
}

func memberKey(id string) string { return "member:" + id }

func memberStatsKey(id string) string { return "member_stats:" + id }

func membersKey(filterKey string) string { return "members:" + filterKey }

func memberVotesKey(id string, offset, limit int) string {
	return fmt.Sprintf("member:%s:votes:%d:%d", id, offset, limit)
}

// filterKey renders a filter as a stable string so equal filters share a
// cache entry.
func filterKey(filter store.Filter, max int) string {
	if len(filter) == 0 && max <= 0 {
		return "all"
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, filter[k]))
	}
	if max > 0 {
		parts = append(parts, fmt.Sprintf("limit=%d", max))
	}
	return strings.Join(parts, "&")
}

// GetMember returns one member, cached.
func (mc *MemberCache) GetMember(ctx context.Context, memberID string) (*store.Member, error) {
	raw, err := mc.readThrough(ctx, memberKey(memberID), func(ctx context.Context) (any, error) {
		return mc.store.GetMember(ctx, memberID)
	})
	if err != nil {
		return nil, err
	}
	var m store.Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMembers returns a filtered member listing, cached per filter key.
func (mc *MemberCache) ListMembers(ctx context.Context, filter store.Filter, max int) ([]*store.Member, error) {
	key := membersKey(filterKey(filter, max))
	raw, err := mc.readThrough(ctx, key, func(ctx context.Context) (any, error) {
		return mc.store.ListMembers(ctx, filter, max)
	})
	if err != nil {
		return nil, err
	}
	var members []*store.Member
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// MemberStats caches the loader's result under member_stats:<id>. The
// loader is supplied by the caller because statistics are computed outside
// the record store.
func (mc *MemberCache) MemberStats(ctx context.Context, memberID string, load LoaderFunc) (json.RawMessage, error) {
	return mc.readThrough(ctx, memberStatsKey(memberID), load)
}

// MemberVotes caches one page of a member's voting history.
func (mc *MemberCache) MemberVotes(ctx context.Context, memberID string, offset, limit int, load LoaderFunc) (json.RawMessage, error) {
	return mc.readThrough(ctx, memberVotesKey(memberID, offset, limit), load)
}

// readThrough is the core read path: hit, stale-hit with background
// refresh, or miss with synchronous load. While degraded the cache is
// bypassed entirely.
func (mc *MemberCache) readThrough(ctx context.Context, key string, load LoaderFunc) ([]byte, error) {
	if !mc.cache.Degraded() {
		raw, ok, err := mc.cache.Get(ctx, key)
		if err == nil && ok {
			observability.CacheHits.Inc()
			if stale, _ := mc.cache.Stale(ctx, key); stale {
				observability.CacheStaleServed.Inc()
				mc.refreshAsync(key, load)
			}
			return raw, nil
		}
	}
	observability.CacheMisses.Inc()
	raw, err := mc.loadAndMarshal(ctx, load)
	if err != nil {
		return nil, err
	}
	if !mc.cache.Degraded() {
		if err := mc.cache.Set(ctx, key, raw, 0); err != nil {
			log.Printf("cache: set %s failed: %v", key, err)
		}
	}
	return raw, nil
}

func (mc *MemberCache) loadAndMarshal(ctx context.Context, load LoaderFunc) ([]byte, error) {
	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// refreshAsync schedules one revalidation job per key. Duplicate stale
// reads while the job is queued or running are dropped.
func (mc *MemberCache) refreshAsync(key string, load LoaderFunc) {
	mc.mu.Lock()
	if _, busy := mc.inflight[key]; busy {
		mc.mu.Unlock()
		return
	}
	mc.inflight[key] = struct{}{}
	mc.mu.Unlock()

	release := func() {
		mc.mu.Lock()
		delete(mc.inflight, key)
		mc.mu.Unlock()
	}
	_, err := mc.queue.Enqueue(taskqueue.PriorityHigh, "cache_refresh:"+key, func(ctx context.Context) (any, error) {
		defer release()
		raw, err := mc.loadAndMarshal(ctx, load)
		if err != nil {
			return nil, err
		}
		return nil, mc.cache.Set(ctx, key, raw, 0)
	}, refreshTimeout, 0)
	if err != nil {
		release()
		log.Printf("cache: refresh enqueue for %s failed: %v", key, err)
	}
}

// Warmup writes every member entry plus the consolidated listing in one
// pipelined batch.
func (mc *MemberCache) Warmup(ctx context.Context, members []*store.Member) error {
	entries := make(map[string][]byte, len(members)+1)
	for _, m := range members {
		raw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		entries[memberKey(m.MemberID)] = raw
	}
	all, err := json.Marshal(members)
	if err != nil {
		return err
	}
	entries[membersKey("all")] = all
	return mc.cache.MSet(ctx, entries, 0)
}

// InvalidateMember drops every cached entry derived from one member,
// including the listings that embed it.
func (mc *MemberCache) InvalidateMember(ctx context.Context, memberID string) (int, error) {
	total := 0
	for _, pattern := range []string{
		memberKey(memberID) + "*",
		memberStatsKey(memberID) + "*",
		membersKey("") + "*",
	} {
		n, err := mc.cache.FlushPattern(ctx, pattern)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Stats counts the cached keys per namespace.
func (mc *MemberCache) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Degraded: mc.cache.Degraded(), Keys: make(map[string]int)}
	for _, ns := range []string{"member:", "members:", "member_stats:"} {
		n, err := mc.cache.countPattern(ctx, ns+"*")
		if err != nil {
			return st, err
		}
		st.Keys[ns] = n
		st.TotalKeys += n
	}
	return st, nil
}
