package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleTable_Multiplier(t *testing.T) {
	table := DefaultRoleTable()

	tests := []struct {
		role string
		want float64
	}{
		{"admin", 5.0},
		{"premium", 2.0},
		{"default", 1.0},
		{"unknown-role", 1.0},
		{"", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Multiplier(tt.role))
		})
	}
}

func TestRoleTable_ScaleLimit(t *testing.T) {
	table := DefaultRoleTable()

	assert.Equal(t, 500, table.ScaleLimit(100, "admin"))
	assert.Equal(t, 200, table.ScaleLimit(100, "premium"))
	assert.Equal(t, 100, table.ScaleLimit(100, "default"))
	assert.Equal(t, 100, table.ScaleLimit(100, "unknown"))
}

func TestRoleTable_ScaleLimitNeverZero(t *testing.T) {
	table := NewRoleTable(map[string]float64{"tiny": 0.001})

	assert.Equal(t, 1, table.ScaleLimit(100, "tiny"))
}

func TestRoleTable_Replace(t *testing.T) {
	table := DefaultRoleTable()
	assert.Equal(t, 5.0, table.Multiplier("admin"))

	table.Replace(map[string]float64{"admin": 10.0})

	assert.Equal(t, 10.0, table.Multiplier("admin"))
	assert.Equal(t, 1.0, table.Multiplier("premium"), "premium dropped, falls back to default")
}

func TestNewRoleTable_IgnoresInvalidMultipliers(t *testing.T) {
	table := NewRoleTable(map[string]float64{
		"negative": -1.0,
		"zero":     0,
		"ok":       3.0,
	})

	assert.Equal(t, 1.0, table.Multiplier("negative"))
	assert.Equal(t, 1.0, table.Multiplier("zero"))
	assert.Equal(t, 3.0, table.Multiplier("ok"))
}

func TestScaledConfig(t *testing.T) {
	cfg := &Config{
		Algorithm: AlgorithmFixedWindow,
		Requests:  100,
		Burst:     20,
	}
	table := DefaultRoleTable()

	scaled := ScaledConfig(cfg, table, "admin")
	assert.Equal(t, 500, scaled.Requests)
	assert.Equal(t, 100, scaled.Burst)

	// Original config untouched
	assert.Equal(t, 100, cfg.Requests)
	assert.Equal(t, 20, cfg.Burst)

	assert.Same(t, cfg, ScaledConfig(cfg, nil, "admin"))
}
