package wire

import (
	"encoding/json"
	"fmt"
)

// Kind tags a decoded vendor MQTT payload. Prefer this explicit decoder
// step over passing polymorphic maps around, per the bridge's design
// notes: unknown kinds are logged and dropped by the caller, never
// guessed at.
type Kind string

const (
	KindChannelUpdate Kind = "channel_update"
	KindRealtime      Kind = "realtime"
	KindReferential   Kind = "referential"
	KindLiveEmu       Kind = "live_emu"
	KindLiveDido      Kind = "live_dido"
	KindUnknown       Kind = "unknown"
)

// Envelope is the decoded result of a vendor MQTT message: exactly one
// of the typed fields below is populated, selected by Kind.
type Envelope struct {
	Kind Kind

	ChannelUpdate *ChannelUpdate
	Realtime      *Realtime
	Referential   *ReferentialBlob
	LiveEmu       *LiveEmu
	LiveDido      *LiveDido
}

// ChannelUpdate is the decoded body of a payload.type == "channel_update"
// message: one zone's fields, addressed by ChannelID.
type ChannelUpdate struct {
	Channel string          `json:"channel"`
	Unique  string          `json:"unique"`
	Fields  ChannelFields   `json:"data"`
}

// ChannelFields are the subset of channel_update.data keys StateEngine
// interprets. Pointer fields distinguish "absent" from zero.
type ChannelFields struct {
	TempZone         *int            `json:"temp_zone,omitempty"`
	Humidity         *float64        `json:"humidity,omitempty"`
	SetpointHNormal  *int            `json:"setpoint_h_normal,omitempty"`
	SetpointHReduced *int            `json:"setpoint_h_reduced,omitempty"`
	SetpointCNormal  *int            `json:"setpoint_c_normal,omitempty"`
	SetpointCReduced *int            `json:"setpoint_c_reduced,omitempty"`
	ModeUsed         *int            `json:"mode_used,omitempty"`
	CCConfigBits     json.RawMessage `json:"cc_config_bits,omitempty"`
	Demand           *float64        `json:"demand,omitempty"`
	DemandState      *bool           `json:"demand_state,omitempty"`
	Dewpoint         *int            `json:"dewpoint,omitempty"`
}

// Realtime is the decoded body of a "realtime"/"realtime.update" message.
// An empty Zones slice is a heartbeat and carries no state change.
type Realtime struct {
	Zones []RealtimeZone `json:"zones"`
}

// RealtimeZone is one zone snapshot inside a realtime payload: the
// routing identifiers and the channel fields are siblings in the same
// JSON object, so decoding needs a custom UnmarshalJSON rather than a
// single struct tag set.
type RealtimeZone struct {
	ZoneID      string
	ChannelZone int
	Controller  int
	Fields      ChannelFields
	Raw         json.RawMessage
}

func (z *RealtimeZone) UnmarshalJSON(raw []byte) error {
	var routing struct {
		ZoneID      string `json:"_id"`
		ChannelZone int    `json:"channelZone"`
		Controller  int    `json:"controllerNumber"`
	}
	if err := json.Unmarshal(raw, &routing); err != nil {
		return fmt.Errorf("wire: malformed realtime zone: %w", err)
	}
	var fields ChannelFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("wire: malformed realtime zone fields: %w", err)
	}
	z.ZoneID = routing.ZoneID
	z.ChannelZone = routing.ChannelZone
	z.Controller = routing.Controller
	z.Fields = fields
	z.Raw = raw
	return nil
}

// ReferentialBlob carries the still-compressed LZ-UTF16 string the
// vendor answers a referential request with; internal/referential
// decompresses and parses it.
type ReferentialBlob struct {
	Compressed string
}

// LiveEmu is one installation's mixed-circuit diagnostic readings.
type LiveEmu struct {
	Unique   string          `json:"unique"`
	Circuits []EmuCircuit    `json:"circuits"`
	Raw      json.RawMessage `json:"-"`
}

// EmuCircuit is one mixed circuit's pump/setpoint/supply/return/valve
// reading. SupplyRaw == 32767 is the vendor's "absent" sentinel.
type EmuCircuit struct {
	Index      int  `json:"index"`
	PumpOn     bool `json:"pump_on"`
	SetpointC  *int `json:"setpoint"`
	SupplyRaw  int  `json:"supply"`
	ReturnRaw  int  `json:"return_temp"`
	ValvePct   int  `json:"valve_opening"`
}

// AbsentSupplySentinel is the vendor's "no reading" marker for
// EmuCircuit.SupplyRaw.
const AbsentSupplySentinel = 32767

// LiveDido is a digital input/output snapshot.
type LiveDido struct {
	Unique  string          `json:"unique"`
	Inputs  map[string]bool `json:"inputs"`
	Outputs map[string]bool `json:"outputs"`
}

// envelopeHeader is the minimal shape every vendor message shares:
// enough to dispatch on type before decoding the rest.
type envelopeHeader struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type liveDataHeader struct {
	Type   string          `json:"type"`
	Unique string          `json:"unique"`
	Data   json.RawMessage `json:"data"`
}

// DecodeEnvelope dispatches a raw vendor MQTT payload into a tagged
// Envelope based on payload.type. An unrecognised type yields
// Kind == KindUnknown with no error, so the caller can log-and-drop
// per the bridge's parse-error policy.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var hdr envelopeHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return Envelope{}, fmt.Errorf("wire: malformed envelope: %w", err)
	}

	switch hdr.Type {
	case "channel_update":
		var cu ChannelUpdate
		if err := json.Unmarshal(hdr.Data, &cu); err != nil {
			return Envelope{}, fmt.Errorf("wire: malformed channel_update: %w", err)
		}
		return Envelope{Kind: KindChannelUpdate, ChannelUpdate: &cu}, nil

	case "realtime", "realtime.update":
		var rt Realtime
		if len(hdr.Data) > 0 {
			if err := json.Unmarshal(hdr.Data, &rt); err != nil {
				return Envelope{}, fmt.Errorf("wire: malformed realtime: %w", err)
			}
		}
		return Envelope{Kind: KindRealtime, Realtime: &rt}, nil

	case "referential":
		var blob string
		if err := json.Unmarshal(hdr.Data, &blob); err != nil {
			return Envelope{}, fmt.Errorf("wire: malformed referential: %w", err)
		}
		return Envelope{Kind: KindReferential, Referential: &ReferentialBlob{Compressed: blob}}, nil

	case "live_data":
		var ld liveDataHeader
		if err := json.Unmarshal(hdr.Data, &ld); err != nil {
			return Envelope{}, fmt.Errorf("wire: malformed live_data: %w", err)
		}
		switch ld.Type {
		case "LIVE_EMU":
			var emu LiveEmu
			emu.Unique = ld.Unique
			emu.Raw = ld.Data
			if err := json.Unmarshal(ld.Data, &emu); err != nil {
				return Envelope{}, fmt.Errorf("wire: malformed LIVE_EMU: %w", err)
			}
			return Envelope{Kind: KindLiveEmu, LiveEmu: &emu}, nil
		case "LIVE_DIDO":
			var dido LiveDido
			dido.Unique = ld.Unique
			if err := json.Unmarshal(ld.Data, &dido); err != nil {
				return Envelope{}, fmt.Errorf("wire: malformed LIVE_DIDO: %w", err)
			}
			return Envelope{Kind: KindLiveDido, LiveDido: &dido}, nil
		default:
			return Envelope{Kind: KindUnknown}, nil
		}

	default:
		return Envelope{Kind: KindUnknown}, nil
	}
}
