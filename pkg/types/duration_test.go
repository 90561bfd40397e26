package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationMarshalsAsMilliseconds(t *testing.T) {
	data, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "1500", string(data))
}

func TestDurationUnmarshalsFromMilliseconds(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte("2500"), &d))
	assert.Equal(t, 2500*time.Millisecond, d.Std())
}

func TestDurationUnmarshalsFromString(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"30s"`), &d))
	assert.Equal(t, 30*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`"2m30s"`), &d))
	assert.Equal(t, 150*time.Second, d.Std())
}

func TestDurationRoundtrips(t *testing.T) {
	original := Duration(45 * time.Second)
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var parsed Duration
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, original, parsed)
}

func TestDurationRejectsGarbage(t *testing.T) {
	var d Duration
	assert.Error(t, json.Unmarshal([]byte(`"not a duration"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`{}`), &d))
}

func TestDurationYAMLForms(t *testing.T) {
	var viaString struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 5s"), &viaString))
	assert.Equal(t, 5*time.Second, viaString.D.Std())

	var viaMillis struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 1200"), &viaMillis))
	assert.Equal(t, 1200*time.Millisecond, viaMillis.D.Std())
}
