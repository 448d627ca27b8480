package wire

import "encoding/json"

// CCConfig is the normalised form of a channel_update's cc_config_bits
// field. Firmware varies on whether this arrives as an integer bitfield
// or as an already-decoded object; NormalizeCCConfig accepts either
// rather than assuming one shape.
type CCConfig struct {
	RingActivation bool
	Lock           bool
}

const (
	ccBitRing = 1 << 0
	ccBitLock = 1 << 1
)

// NormalizeCCConfig decodes raw cc_config_bits JSON, which is either a
// JSON number (bitfield) or a JSON object with ring_activation/lock
// booleans. A nil/empty raw value yields the zero CCConfig and ok=false.
func NormalizeCCConfig(raw json.RawMessage) (CCConfig, bool) {
	if len(raw) == 0 {
		return CCConfig{}, false
	}

	var asInt int64
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return CCConfig{
			RingActivation: asInt&ccBitRing != 0,
			Lock:           asInt&ccBitLock != 0,
		}, true
	}

	var asObj struct {
		RingActivation bool `json:"ring_activation"`
		Lock           bool `json:"lock"`
	}
	if err := json.Unmarshal(raw, &asObj); err == nil {
		return CCConfig{RingActivation: asObj.RingActivation, Lock: asObj.Lock}, true
	}

	return CCConfig{}, false
}
