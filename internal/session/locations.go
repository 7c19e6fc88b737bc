package session

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/corostack/pkg/remote"
)

type locationEntry struct {
	class  string
	method string
	line   int
	loc    remote.Location
	err    error
}

// LocationCache memoises class + method + line to location lookups for one
// pause. Classes that cannot be located are remembered too; stale failures
// are not.
type LocationCache struct {
	proc remote.Process

	mu      sync.Mutex
	entries map[uint64]locationEntry
	hits    int
	misses  int
}

// NewLocationCache returns an empty cache in front of proc.
func NewLocationCache(proc remote.Process) *LocationCache {
	return &LocationCache{
		proc:    proc,
		entries: make(map[uint64]locationEntry),
	}
}

func locationKey(class, method string, line int) uint64 {
	return xxh3.HashString(class + "\x00" + method + "\x00" + strconv.Itoa(line))
}

// Locate implements the continuation.Locator contract.
func (c *LocationCache) Locate(ctx context.Context, class, method string, line int) (remote.Location, error) {
	key := locationKey(class, method, line)

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.class == class && e.method == method && e.line == line {
		c.hits++
		c.mu.Unlock()
		return e.loc, e.err
	}
	c.misses++
	c.mu.Unlock()

	loc, err := c.proc.Locate(ctx, class, method, line)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return loc, err
	}

	c.mu.Lock()
	// A colliding key keeps its first owner.
	if _, taken := c.entries[key]; !taken {
		c.entries[key] = locationEntry{class: class, method: method, line: line, loc: loc, err: err}
	}
	c.mu.Unlock()

	return loc, err
}

// Stats returns cache hits and misses.
func (c *LocationCache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of cached lookups.
func (c *LocationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *LocationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]locationEntry)
}
