package command

import "github.com/rehau-bridge/nea-bridge/internal/model"

// logicalField identifies which vendor field a logical command
// writes, independent of whether the referential has resolved it to
// a symbolic or fallback numeric key yet.
type logicalField int

const (
	fieldModeUsed logicalField = iota
	fieldSetpointHNormal
	fieldSetpointHReduced
	fieldSetpointCNormal
	fieldSetpointCReduced
	fieldRingFunction
	fieldLockActivation
)

// symbolicKey is the referential's symbolic name for each field, and
// fallbackKey is the numeric key to use when the referential has not
// loaded yet.
var symbolicKey = map[logicalField]string{
	fieldModeUsed:         "mode_used",
	fieldSetpointHNormal:  "setpoint_h_normal",
	fieldSetpointHReduced: "setpoint_h_reduced",
	fieldSetpointCNormal:  "setpoint_c_normal",
	fieldSetpointCReduced: "setpoint_c_reduced",
	fieldRingFunction:     "ring_function",
	fieldLockActivation:   "loc_activation",
}

var fallbackKey = map[logicalField]string{
	fieldModeUsed:         "15",
	fieldSetpointHNormal:  "16",
	fieldSetpointHReduced: "17",
	fieldSetpointCNormal:  "19",
	fieldSetpointCReduced: "20",
	fieldRingFunction:     "34",
	fieldLockActivation:   "31",
}

// referentialLookup resolves the wire key for a logical field.
type referentialLookup interface {
	NumericKey(symbol string) (string, bool)
}

func resolveKey(ref referentialLookup, field logicalField) string {
	if ref != nil {
		if numeric, ok := ref.NumericKey(symbolicKey[field]); ok {
			return numeric
		}
	}
	return fallbackKey[field]
}

// setpointField picks which setpoint field a temperature command
// writes, depending on the zone's installation mode and preset.
func setpointField(installationMode model.Mode, preset model.Preset) logicalField {
	switch installationMode {
	case model.ModeCool:
		if preset == model.PresetAway {
			return fieldSetpointCReduced
		}
		return fieldSetpointCNormal
	default: // heat
		if preset == model.PresetAway {
			return fieldSetpointHReduced
		}
		return fieldSetpointHNormal
	}
}

// modeUsedValue encodes the logical mode/preset pair into the
// mode_used value a command writes. Turn-off sends 2; the read side
// treats both 2 and 3 as off.
func modeUsedValue(mode model.Mode, preset model.Preset) int {
	if mode == model.ModeOff {
		return 2
	}
	if preset == model.PresetAway {
		return 1
	}
	return 0
}
