package wasmhook

import (
	"container/list"
	"regexp"
	"sync"
)

const (
	// DefaultRegexCacheSize is the default maximum number of cached regex
	// patterns compiled on behalf of hook scripts.
	DefaultRegexCacheSize = 100

	// MaxHostPatternLength limits patterns submitted through the regex host
	// functions (ReDoS mitigation; engine-side patterns have their own
	// limit in the definition loader).
	MaxHostPatternLength = 512
)

// regexCache is a thread-safe LRU cache of compiled regular expressions,
// shared by all hook invocations of one runner.
type regexCache struct {
	mu      sync.RWMutex
	cache   map[string]*list.Element
	lruList *list.List
	maxSize int
}

type cacheEntry struct {
	pattern string
	re      *regexp.Regexp
}

func newRegexCache(maxSize int) *regexCache {
	return &regexCache{
		cache:   make(map[string]*list.Element),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// Get returns the compiled regex for pattern, compiling and caching it on
// first use.
func (c *regexCache) Get(pattern string) (*regexp.Regexp, error) {
	if len(pattern) > MaxHostPatternLength {
		return nil, &ABIError{
			Function: "regex_match",
			Reason:   "pattern exceeds maximum length",
		}
	}

	c.mu.RLock()
	if elem, ok := c.cache[pattern]; ok {
		c.mu.RUnlock()
		c.mu.Lock()
		c.lruList.MoveToFront(elem)
		re := elem.Value.(*cacheEntry).re
		c.mu.Unlock()
		return re, nil
	}
	c.mu.RUnlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have compiled it meanwhile.
	if elem, ok := c.cache[pattern]; ok {
		c.lruList.MoveToFront(elem)
		return elem.Value.(*cacheEntry).re, nil
	}

	if c.lruList.Len() >= c.maxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			c.lruList.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).pattern)
		}
	}

	elem := c.lruList.PushFront(&cacheEntry{pattern: pattern, re: re})
	c.cache[pattern] = elem
	return re, nil
}

// Len returns the current number of cached patterns.
func (c *regexCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lruList.Len()
}
