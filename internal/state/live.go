package state

import (
	"fmt"

	"github.com/rehau-bridge/nea-bridge/internal/wire"
)

// ApplyLiveEmu publishes mixed-circuit diagnostics: pump on/off,
// setpoint, supply, return, and valve opening, skipping any circuit
// whose supply reading is the vendor's "absent" sentinel.
func (e *Engine) ApplyLiveEmu(emu *wire.LiveEmu) {
	base := fmt.Sprintf("homeassistant/sensor/rehau_emu_%s", emu.Unique)
	for _, c := range emu.Circuits {
		if c.SupplyRaw == wire.AbsentSupplySentinel {
			continue
		}
		prefix := fmt.Sprintf("%s_circuit_%d", base, c.Index)

		pump := "OFF"
		if c.PumpOn {
			pump = "ON"
		}
		e.publish(prefix+"_pump/state", []byte(pump), false)

		if c.SetpointC != nil {
			e.publish(prefix+"_setpoint/state", []byte(formatTemp(wire.DecodeTemperature(*c.SetpointC))), false)
		}
		e.publish(prefix+"_supply/state", []byte(formatTemp(wire.DecodeTemperature(c.SupplyRaw))), false)
		e.publish(prefix+"_return/state", []byte(formatTemp(wire.DecodeTemperature(c.ReturnRaw))), false)
		e.publish(prefix+"_valve/state", []byte(fmt.Sprintf("%d", c.ValvePct)), false)
	}
}

// ApplyLiveDido publishes one binary sensor per digital input and
// output.
func (e *Engine) ApplyLiveDido(dido *wire.LiveDido) {
	base := fmt.Sprintf("homeassistant/binary_sensor/rehau_dido_%s", dido.Unique)
	for name, on := range dido.Inputs {
		e.publishBinary(fmt.Sprintf("%s_input_%s/state", base, name), on)
	}
	for name, on := range dido.Outputs {
		e.publishBinary(fmt.Sprintf("%s_output_%s/state", base, name), on)
	}
}

func (e *Engine) publishBinary(topic string, on bool) {
	state := "OFF"
	if on {
		state = "ON"
	}
	e.publish(topic, []byte(state), false)
}
