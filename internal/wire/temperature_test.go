package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeTemperature(t *testing.T) {
	// S1 from the bridge's end-to-end scenarios: 22.5C heat+comfort setpoint.
	assert.Equal(t, 725, EncodeTemperature(22.5))
	assert.Equal(t, 320, EncodeTemperature(0))
}

func TestDecodeTemperature(t *testing.T) {
	assert.Equal(t, 22.5, DecodeTemperature(725))
	assert.Equal(t, 0.0, DecodeTemperature(320))
}

// TestRoundTrip exercises invariant #2 from the bridge's testable
// properties: for every integer raw F*10 value, encode(decode(r)) == r
// up to the documented one-decimal rounding.
func TestRoundTrip(t *testing.T) {
	for raw := -400; raw < 1200; raw++ {
		celsius := DecodeTemperature(raw)
		got := EncodeTemperature(celsius)
		assert.InDeltaf(t, raw, got, 1, "round trip for raw=%d produced celsius=%v -> %d", raw, celsius, got)
	}
}
