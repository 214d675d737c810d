package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgegate/edgegate/internal/observability"
)

// Snapshot is a JSON-serializable copy of one partition's entries with
// their remaining TTLs at the moment the backup was taken.
type Snapshot struct {
	Domain       string          `json:"domain"`
	PartitionKey string          `json:"partitionKey"`
	TakenAt      time.Time       `json:"takenAt"`
	Entries      []SnapshotEntry `json:"entries"`
}

// SnapshotEntry is one cached entry in a snapshot. Value is base64 in the
// JSON form (encoding/json's []byte default).
type SnapshotEntry struct {
	Key       string        `json:"key"`
	Value     []byte        `json:"value"`
	Remaining time.Duration `json:"remainingTTL"`
}

// Marshal serializes the snapshot to JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot deserializes a snapshot from JSON.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &s, nil
}

// Backup captures the partition's current entries. The backend must
// support key scanning and TTL reads; an entry that expires mid-backup is
// skipped rather than failing the snapshot.
func (c *Coordinator) Backup(ctx context.Context) (*Snapshot, error) {
	scanner, ok := c.backend.(KeyScanner)
	if !ok {
		return nil, errors.New("cache backend does not support backup")
	}
	reader, ok := c.backend.(TTLReader)
	if !ok {
		return nil, errors.New("cache backend does not support TTL reads")
	}

	namespaced, err := scanner.Scan(ctx, c.partition.Prefix()+"*", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("backup scan failed: %w", err)
	}

	snapshot := &Snapshot{
		Domain:       c.partition.Domain,
		PartitionKey: c.partition.Key,
		TakenAt:      time.Now().UTC(),
	}

	for _, full := range namespaced {
		key := c.partition.Strip(full)
		// Tag index markers are not entries
		if strings.Contains(key, partitionSeparator) {
			continue
		}

		value, remaining, err := reader.GetWithTTL(ctx, full)
		if err != nil {
			if errors.Is(err, ErrCacheMiss) {
				continue
			}
			return nil, fmt.Errorf("backup read failed for %s: %w", full, err)
		}

		snapshot.Entries = append(snapshot.Entries, SnapshotEntry{
			Key:       key,
			Value:     value,
			Remaining: remaining,
		})
	}

	c.logger.Info("partition backup completed",
		observability.String("partition", c.partition.String()),
		observability.Int("entries", len(snapshot.Entries)))

	return snapshot, nil
}

// Restore writes a snapshot's entries back into the partition, preserving
// the remaining TTLs recorded at backup time. It returns the number of
// entries restored. A snapshot taken from another partition is rejected.
func (c *Coordinator) Restore(ctx context.Context, snapshot *Snapshot) (int, error) {
	if snapshot == nil {
		return 0, errors.New("snapshot is required")
	}
	if snapshot.Domain != c.partition.Domain || snapshot.PartitionKey != c.partition.Key {
		return 0, fmt.Errorf("snapshot belongs to partition %s/%s, not %s",
			snapshot.Domain, snapshot.PartitionKey, c.partition.String())
	}

	restored := 0
	for _, entry := range snapshot.Entries {
		ttl := entry.Remaining
		if ttl < 0 {
			continue
		}
		if err := c.Set(ctx, entry.Key, entry.Value, ttl); err != nil {
			return restored, fmt.Errorf("restore failed for %s: %w", entry.Key, err)
		}
		restored++
	}

	c.logger.Info("partition restore completed",
		observability.String("partition", c.partition.String()),
		observability.Int("restored", restored))

	return restored, nil
}

// Flush removes every entry in the partition. Used operationally before a
// restore; bounded only by the backend scan itself.
func (c *Coordinator) Flush(ctx context.Context) (int, error) {
	scanner, ok := c.backend.(KeyScanner)
	if !ok {
		return 0, errors.New("cache backend does not support flush")
	}

	namespaced, err := scanner.Scan(ctx, c.partition.Prefix()+"*", 0, 0)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, full := range namespaced {
		if err := c.backend.Delete(ctx, full); err != nil {
			return removed, err
		}
		// Tag index markers go too but are not counted as entries
		if !strings.Contains(c.partition.Strip(full), partitionSeparator) {
			removed++
		}
	}

	return removed, nil
}
