package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/edgegate/edgegate/internal/observability"
)

// InvalidationMode identifies how the keys to invalidate are selected.
type InvalidationMode string

// Invalidation modes.
const (
	InvalidateKeys    InvalidationMode = "keys"
	InvalidateTag     InvalidationMode = "tag"
	InvalidatePattern InvalidationMode = "pattern"
	InvalidateEvent   InvalidationMode = "event"
)

// Default bounds for pattern invalidation scans.
const (
	DefaultPatternLimit  = 1000
	DefaultPatternBudget = 500 * time.Millisecond
)

// ErrNoInvalidationMode indicates a request that selects no keys.
var ErrNoInvalidationMode = errors.New("invalidation request must set exactly one of Keys, Tag, Pattern, Event")

// InvalidationRequest selects partition entries to remove. Exactly one of
// Keys, Tag, Pattern, or Event must be set.
type InvalidationRequest struct {
	// Keys removes the listed keys.
	Keys []string

	// Tag removes every key indexed under the tag.
	Tag string

	// Pattern removes keys matching a glob pattern. The scan is bounded
	// by PatternLimit and PatternBudget; intended for operational
	// cleanup, not production traffic paths.
	Pattern string

	// Event removes the key sets registered for a named domain event.
	Event string

	// Cascade also removes the registered dependents of every selected
	// key, transitively. When false only the selected keys are removed.
	Cascade bool

	// PatternLimit caps how many keys a pattern scan may collect.
	// Zero applies DefaultPatternLimit.
	PatternLimit int

	// PatternBudget caps how long a pattern scan may run.
	// Zero applies DefaultPatternBudget.
	PatternBudget time.Duration
}

// mode returns the request's mode, or an error when it is ambiguous.
func (r *InvalidationRequest) mode() (InvalidationMode, error) {
	var modes []InvalidationMode
	if len(r.Keys) > 0 {
		modes = append(modes, InvalidateKeys)
	}
	if r.Tag != "" {
		modes = append(modes, InvalidateTag)
	}
	if r.Pattern != "" {
		modes = append(modes, InvalidatePattern)
	}
	if r.Event != "" {
		modes = append(modes, InvalidateEvent)
	}
	if len(modes) != 1 {
		return "", ErrNoInvalidationMode
	}
	return modes[0], nil
}

// InvalidationReport describes the outcome of an invalidation.
type InvalidationReport struct {
	Mode    InvalidationMode
	Removed []string
}

// Invalidate removes the selected entries from the partition. Keys outside
// the partition are unreachable by construction: every selected key passes
// through the partition prefix before touching the backend.
func (c *Coordinator) Invalidate(
	ctx context.Context, req InvalidationRequest,
) (*InvalidationReport, error) {
	mode, err := req.mode()
	if err != nil {
		return nil, err
	}

	var keys []string
	switch mode {
	case InvalidateKeys:
		keys = req.Keys
	case InvalidateTag:
		keys, err = c.keysForTag(ctx, req.Tag)
		if err != nil {
			return nil, err
		}
	case InvalidatePattern:
		keys, err = c.scanPattern(ctx, req)
		if err != nil {
			return nil, err
		}
	case InvalidateEvent:
		keys = c.keysForEvent(req.Event)
		GetCacheMetrics().invalidationEventsTotal.WithLabelValues(req.Event).Inc()
	}

	if req.Cascade {
		keys = c.expandDependents(keys)
	}

	report := &InvalidationReport{Mode: mode}
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			return report, err
		}
		if mode == InvalidateTag {
			if marker, mErr := c.tagMarkerKey(req.Tag, key); mErr == nil {
				_ = c.backend.Delete(ctx, marker)
			}
		}
		report.Removed = append(report.Removed, key)
	}

	GetCacheMetrics().invalidationsTotal.WithLabelValues(string(mode)).
		Add(float64(len(report.Removed)))

	c.logger.Info("cache invalidation completed",
		observability.String("partition", c.partition.String()),
		observability.String("mode", string(mode)),
		observability.Int("removed", len(report.Removed)))

	return report, nil
}

// scanPattern collects partition keys matching the request pattern within
// the configured bounds.
func (c *Coordinator) scanPattern(
	ctx context.Context, req InvalidationRequest,
) ([]string, error) {
	scanner, ok := c.backend.(KeyScanner)
	if !ok {
		return nil, errors.New("cache backend does not support pattern invalidation")
	}

	limit := req.PatternLimit
	if limit <= 0 {
		limit = DefaultPatternLimit
	}
	budget := req.PatternBudget
	if budget <= 0 {
		budget = DefaultPatternBudget
	}

	c.logger.Warn("pattern invalidation requested; bounded scan in progress",
		observability.String("partition", c.partition.String()),
		observability.String("pattern", req.Pattern))

	namespaced, err := scanner.Scan(ctx, c.partition.Prefix()+req.Pattern, limit, budget)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(namespaced))
	for _, key := range namespaced {
		stripped := c.partition.Strip(key)
		// Tag index markers are not entries
		if strings.Contains(stripped, partitionSeparator) {
			continue
		}
		keys = append(keys, stripped)
	}
	return keys, nil
}
