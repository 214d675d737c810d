package cache

import (
	"fmt"
	"strings"
)

// partitionSeparator joins the partition prefix components. Keys supplied by
// callers must never contain it; allowing it through would let a caller
// address another partition's namespace.
const partitionSeparator = ":"

// Partition identifies an isolated cache namespace: a domain (typically the
// route name) plus a partition key within it (for example a tenant ID).
type Partition struct {
	Domain string
	Key    string
}

// PartitionViolation reports an attempt to use a partition or key that
// would escape its namespace. It indicates a programming error in the
// caller, not a runtime condition.
type PartitionViolation struct {
	Component string
	Value     string
}

// Error implements the error interface.
func (e *PartitionViolation) Error() string {
	return fmt.Sprintf("partition violation: %s %q must not contain %q",
		e.Component, e.Value, partitionSeparator)
}

// Validate checks that neither partition component contains the separator.
func (p Partition) Validate() error {
	if p.Domain == "" {
		return &PartitionViolation{Component: "domain", Value: p.Domain}
	}
	if strings.Contains(p.Domain, partitionSeparator) {
		return &PartitionViolation{Component: "domain", Value: p.Domain}
	}
	if strings.Contains(p.Key, partitionSeparator) {
		return &PartitionViolation{Component: "partition key", Value: p.Key}
	}
	return nil
}

// Prefix returns the namespace prefix all of the partition's entries live
// under.
func (p Partition) Prefix() string {
	return "partition" + partitionSeparator + p.Domain +
		partitionSeparator + p.Key + partitionSeparator
}

// Apply validates the caller-supplied key and returns it under the
// partition prefix.
func (p Partition) Apply(key string) (string, error) {
	if key == "" || strings.Contains(key, partitionSeparator) {
		return "", &PartitionViolation{Component: "key", Value: key}
	}
	return p.Prefix() + key, nil
}

// Strip removes the partition prefix from a namespaced key.
func (p Partition) Strip(namespaced string) string {
	return strings.TrimPrefix(namespaced, p.Prefix())
}

// String implements fmt.Stringer.
func (p Partition) String() string {
	return p.Domain + "/" + p.Key
}
