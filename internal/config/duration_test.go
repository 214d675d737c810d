package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", input: `"30s"`, want: 30 * time.Second},
		{name: "minutes", input: `"5m"`, want: 5 * time.Minute},
		{name: "compound", input: `"1h30m"`, want: 90 * time.Minute},
		{name: "milliseconds", input: `"300ms"`, want: 300 * time.Millisecond},
		{name: "empty", input: `""`, want: 0},
		{name: "garbage", input: `"not-a-duration"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := yaml.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}
}

func TestDuration_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "1m30s\n", string(out))
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	original := Duration(45 * time.Second)

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Equal(t, `"45s"`, string(data))

	var decoded Duration
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

func TestDuration_UnmarshalJSONNull(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte("null"), &d))
	assert.Equal(t, time.Duration(0), d.Duration())
}
