package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"quorum/internal/market"
)

const defaultShardCount = 32

// QuoteCache 缓存最近报价：LRU 容量上限 + 每条目 TTL。
// 按 FNV-1a 分片，不同标的互不争锁。过期条目在访问与写入时惰性清理，
// 不会随死条目无限增长。
type QuoteCache struct {
	shards []shard
	ttl    time.Duration
	nowFn  func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type shard struct {
	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	cap   int
}

type entry struct {
	key       string
	quote     market.Quote
	fetchedAt time.Time
	ttl       time.Duration
}

type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

func NewQuoteCache(capacity int, ttl time.Duration) *QuoteCache {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	perShard := capacity / defaultShardCount
	if perShard < 1 {
		perShard = 1
	}
	c := &QuoteCache{
		shards: make([]shard, defaultShardCount),
		ttl:    ttl,
		nowFn:  time.Now,
	}
	for i := range c.shards {
		c.shards[i] = shard{
			ll:    list.New(),
			items: make(map[string]*list.Element),
			cap:   perShard,
		}
	}
	return c
}

func (c *QuoteCache) shardFor(key string) *shard {
	idx := hashKey(key) % uint32(len(c.shards))
	return &c.shards[idx]
}

// Get 返回未过期的缓存报价。过期条目当场移除并按 miss 计。
func (c *QuoteCache) Get(symbol string) (market.Quote, bool) {
	sh := c.shardFor(symbol)
	now := c.nowFn()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	el, ok := sh.items[symbol]
	if !ok {
		c.misses.Add(1)
		return market.Quote{}, false
	}
	en := el.Value.(*entry)
	if now.Sub(en.fetchedAt) > en.ttl {
		sh.removeLocked(el, en)
		c.evictions.Add(1)
		c.misses.Add(1)
		return market.Quote{}, false
	}
	sh.ll.MoveToFront(el)
	c.hits.Add(1)
	return en.quote, true
}

// Put 以缓存默认 TTL 写入。
func (c *QuoteCache) Put(symbol string, q market.Quote) {
	c.PutTTL(symbol, q, c.ttl)
}

// PutTTL 以指定 TTL 写入，并顺带淘汰该分片内的过期与超容条目。
func (c *QuoteCache) PutTTL(symbol string, q market.Quote, ttl time.Duration) {
	if symbol == "" {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	sh := c.shardFor(symbol)
	now := c.nowFn()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if el, ok := sh.items[symbol]; ok {
		en := el.Value.(*entry)
		en.quote = q
		en.fetchedAt = now
		en.ttl = ttl
		sh.ll.MoveToFront(el)
	} else {
		el := sh.ll.PushFront(&entry{key: symbol, quote: q, fetchedAt: now, ttl: ttl})
		sh.items[symbol] = el
	}
	c.evictions.Add(int64(sh.sweepLocked(now)))
}

func (c *QuoteCache) Len() int {
	total := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		total += sh.ll.Len()
		sh.mu.Unlock()
	}
	return total
}

func (c *QuoteCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
	}
}

func (sh *shard) removeLocked(el *list.Element, en *entry) {
	sh.ll.Remove(el)
	delete(sh.items, en.key)
}

// sweepLocked 从队尾清理过期条目，再按容量截断，返回淘汰条数。
func (sh *shard) sweepLocked(now time.Time) int {
	removed := 0
	for el := sh.ll.Back(); el != nil; {
		en := el.Value.(*entry)
		prev := el.Prev()
		if now.Sub(en.fetchedAt) > en.ttl {
			sh.removeLocked(el, en)
			removed++
		}
		el = prev
	}
	for sh.ll.Len() > sh.cap {
		el := sh.ll.Back()
		if el == nil {
			break
		}
		sh.removeLocked(el, el.Value.(*entry))
		removed++
	}
	return removed
}

func hashKey(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
