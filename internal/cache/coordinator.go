package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/observability"
)

// LoaderFunc fetches the authoritative value for a key so the coordinator
// can populate the cache during warming. It returns the value and the TTL
// it should be cached with; a zero TTL means the backend default.
type LoaderFunc func(ctx context.Context, key string) ([]byte, time.Duration, error)

// Lookup is the result of a coordinator read. A miss is not an error.
type Lookup struct {
	Hit   bool
	Value []byte
}

// Coordinator scopes a cache backend to a single partition and layers tag
// indexing, invalidation, warming, and backup on top of it. Every key
// passes through the partition prefix, so entries from different
// partitions can never be read or invalidated through this coordinator.
// The tag index lives in the backend keyspace as marker entries, so a tag
// invalidation issued on one gateway instance removes entries written by
// any other.
type Coordinator struct {
	backend    Cache
	partition  Partition
	defaultTTL time.Duration
	loader     LoaderFunc
	logger     observability.Logger

	mu         sync.Mutex
	dependents map[string][]string
	events     map[string][]string
	accesses   map[string]int64
}

// CoordinatorOption is a functional option for the coordinator.
type CoordinatorOption func(*Coordinator)

// WithLoader sets the loader used for cache warming.
func WithLoader(loader LoaderFunc) CoordinatorOption {
	return func(c *Coordinator) {
		c.loader = loader
	}
}

// WithCoordinatorLogger sets the coordinator logger.
func WithCoordinatorLogger(logger observability.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator for the given partition. An invalid
// partition is a programming error and returns a *PartitionViolation.
func NewCoordinator(
	backend Cache,
	partition Partition,
	defaultTTL time.Duration,
	opts ...CoordinatorOption,
) (*Coordinator, error) {
	if backend == nil {
		return nil, errors.New("cache backend is required")
	}
	if err := partition.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		backend:    backend,
		partition:  partition,
		defaultTTL: defaultTTL,
		logger:     observability.NopLogger(),
		dependents: make(map[string][]string),
		events:     make(map[string][]string),
		accesses:   make(map[string]int64),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Partition returns the partition this coordinator is scoped to.
func (c *Coordinator) Partition() Partition {
	return c.partition
}

// SetLoader installs the loader used for cache warming. Intended for
// loaders that can only be built after the coordinator itself, such as
// one replaying requests through the route's own handler chain.
func (c *Coordinator) SetLoader(loader LoaderFunc) {
	c.loader = loader
}

// Get retrieves a value from the partition. A miss returns
// Lookup{Hit: false} with a nil error; only backend failures are errors.
func (c *Coordinator) Get(ctx context.Context, key string) (Lookup, error) {
	namespaced, err := c.partition.Apply(key)
	if err != nil {
		return Lookup{}, err
	}

	c.recordAccess(key)

	value, err := c.backend.Get(ctx, namespaced)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return Lookup{Hit: false}, nil
		}
		return Lookup{}, err
	}

	return Lookup{Hit: true, Value: value}, nil
}

// Set stores a value in the partition and indexes it under the given tags.
func (c *Coordinator) Set(
	ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string,
) error {
	namespaced, err := c.partition.Apply(key)
	if err != nil {
		return err
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	if err := c.backend.Set(ctx, namespaced, value, ttl); err != nil {
		return err
	}

	for _, tag := range tags {
		marker, err := c.tagMarkerKey(tag, key)
		if err != nil {
			return err
		}
		// The marker shares the entry's TTL so the index converges with
		// the entries it points at.
		if err := c.backend.Set(ctx, marker, []byte(key), ttl); err != nil {
			return err
		}
	}

	return nil
}

// Delete removes a single key from the partition. Any tag markers for the
// key stay behind and expire with their TTL; a later tag invalidation
// deleting the already-missing key is a no-op.
func (c *Coordinator) Delete(ctx context.Context, key string) error {
	namespaced, err := c.partition.Apply(key)
	if err != nil {
		return err
	}

	return c.backend.Delete(ctx, namespaced)
}

// Exists checks whether a key is present in the partition.
func (c *Coordinator) Exists(ctx context.Context, key string) (bool, error) {
	namespaced, err := c.partition.Apply(key)
	if err != nil {
		return false, err
	}
	return c.backend.Exists(ctx, namespaced)
}

// RegisterDependents records keys that must be removed together with key
// when a cascading invalidation hits it.
func (c *Coordinator) RegisterDependents(key string, dependents ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dependents[key] = append(c.dependents[key], dependents...)
}

// RegisterEvent binds a named domain event to the keys it invalidates.
func (c *Coordinator) RegisterEvent(event string, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[event] = append(c.events[event], keys...)
}

// recordAccess bumps the access counter used by predictive warming.
func (c *Coordinator) recordAccess(key string) {
	c.mu.Lock()
	c.accesses[key]++
	c.mu.Unlock()
}

// tagNamespace prefixes the marker keys holding the tag index inside the
// partition's backend keyspace. Markers are distinguishable from entries
// because entry keys can never contain the separator.
const tagNamespace = "tag" + partitionSeparator

// tagMarkerKey returns the namespaced marker key indexing key under tag.
// Tags containing the separator would bleed into neighboring tag
// namespaces and are rejected.
func (c *Coordinator) tagMarkerKey(tag, key string) (string, error) {
	if tag == "" || strings.Contains(tag, partitionSeparator) {
		return "", &PartitionViolation{Component: "tag", Value: tag}
	}
	return c.partition.Prefix() + tagNamespace + tag + partitionSeparator + key, nil
}

// keysForTag scans the tag's marker keys in the backend keyspace and
// returns the entry keys they index.
func (c *Coordinator) keysForTag(ctx context.Context, tag string) ([]string, error) {
	scanner, ok := c.backend.(KeyScanner)
	if !ok {
		return nil, errors.New("cache backend does not support tag invalidation")
	}
	if tag == "" || strings.Contains(tag, partitionSeparator) {
		return nil, &PartitionViolation{Component: "tag", Value: tag}
	}

	markerPrefix := c.partition.Prefix() + tagNamespace + tag + partitionSeparator
	markers, err := scanner.Scan(ctx, markerPrefix+"*", 0, 0)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(markers))
	for _, marker := range markers {
		key := strings.TrimPrefix(marker, markerPrefix)
		namespaced, err := c.partition.Apply(key)
		if err != nil {
			continue
		}
		exists, err := c.backend.Exists(ctx, namespaced)
		if err != nil {
			return nil, err
		}
		if !exists {
			// The entry is already gone; the marker is stale
			_ = c.backend.Delete(ctx, marker)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// keysForEvent returns a copy of the keys registered for an event.
func (c *Coordinator) keysForEvent(event string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events[event]...)
}

// expandDependents returns the transitive closure of keys plus their
// registered dependents.
func (c *Coordinator) expandDependents(keys []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(keys))
	queue := append([]string(nil), keys...)
	var result []string

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
		queue = append(queue, c.dependents[key]...)
	}

	return result
}

// topAccessedKeys returns the n most frequently read keys.
func (c *Coordinator) topAccessedKeys(n int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type keyCount struct {
		key   string
		count int64
	}

	counts := make([]keyCount, 0, len(c.accesses))
	for key, count := range c.accesses {
		counts = append(counts, keyCount{key, count})
	}

	// Insertion sort by descending count; the access map stays small
	// relative to the cache itself.
	for i := 1; i < len(counts); i++ {
		for j := i; j > 0 && counts[j].count > counts[j-1].count; j-- {
			counts[j], counts[j-1] = counts[j-1], counts[j]
		}
	}

	if n > len(counts) {
		n = len(counts)
	}
	keys := make([]string, 0, n)
	for _, kc := range counts[:n] {
		keys = append(keys, kc.key)
	}
	return keys
}
