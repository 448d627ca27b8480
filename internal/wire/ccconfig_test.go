package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCCConfig_IntegerBitfield(t *testing.T) {
	cfg, ok := NormalizeCCConfig(json.RawMessage(`3`))
	require.True(t, ok)
	assert.True(t, cfg.RingActivation)
	assert.True(t, cfg.Lock)
}

func TestNormalizeCCConfig_DecodedObject(t *testing.T) {
	cfg, ok := NormalizeCCConfig(json.RawMessage(`{"ring_activation":true,"lock":false}`))
	require.True(t, ok)
	assert.True(t, cfg.RingActivation)
	assert.False(t, cfg.Lock)
}

func TestNormalizeCCConfig_EmptyIsAbsent(t *testing.T) {
	_, ok := NormalizeCCConfig(nil)
	assert.False(t, ok)
}
