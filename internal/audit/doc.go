// Package audit provides an append-only audit trail for gateway
// decisions. Events are written as JSON lines to a configurable sink
// and mirrored as daily counters in the shared counter store so that
// block/allow ratios can be inspected without parsing logs.
package audit
