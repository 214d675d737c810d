package ratelimit

import (
	"math"
	"sync"
)

// DefaultRole is applied when a request carries no resolved role.
const DefaultRole = "default"

// RoleTable maps roles to limit multipliers. Limits are scaled by role
// before a limiter is consulted; the algorithms themselves never see roles.
// The table is safe for concurrent use so configuration reloads can swap
// multipliers without a restart.
type RoleTable struct {
	mu          sync.RWMutex
	multipliers map[string]float64
}

// NewRoleTable creates a role table with the given multipliers. A multiplier
// for DefaultRole is added when missing.
func NewRoleTable(multipliers map[string]float64) *RoleTable {
	m := make(map[string]float64, len(multipliers)+1)
	for role, mult := range multipliers {
		if mult > 0 {
			m[role] = mult
		}
	}
	if _, ok := m[DefaultRole]; !ok {
		m[DefaultRole] = 1.0
	}
	return &RoleTable{multipliers: m}
}

// DefaultRoleTable returns the standard role table: admin 5x, premium 2x,
// everyone else 1x.
func DefaultRoleTable() *RoleTable {
	return NewRoleTable(map[string]float64{
		"admin":     5.0,
		"premium":   2.0,
		DefaultRole: 1.0,
	})
}

// Multiplier returns the multiplier for the given role, falling back to the
// default role for unknown roles.
func (t *RoleTable) Multiplier(role string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if mult, ok := t.multipliers[role]; ok {
		return mult
	}
	return t.multipliers[DefaultRole]
}

// ScaleLimit applies the role multiplier to a base limit. The result is
// always at least 1 so a configured route never becomes fully closed by
// rounding.
func (t *RoleTable) ScaleLimit(base int, role string) int {
	scaled := int(math.Floor(float64(base) * t.Multiplier(role)))
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// Replace swaps the multiplier table. Used by the configuration watcher.
func (t *RoleTable) Replace(multipliers map[string]float64) {
	m := make(map[string]float64, len(multipliers)+1)
	for role, mult := range multipliers {
		if mult > 0 {
			m[role] = mult
		}
	}
	if _, ok := m[DefaultRole]; !ok {
		m[DefaultRole] = 1.0
	}

	t.mu.Lock()
	t.multipliers = m
	t.mu.Unlock()
}

// Roles returns the roles currently present in the table.
func (t *RoleTable) Roles() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	roles := make([]string, 0, len(t.multipliers))
	for role := range t.multipliers {
		roles = append(roles, role)
	}
	return roles
}
