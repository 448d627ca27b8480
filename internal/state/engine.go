// Package state translates decoded vendor wire messages into Zone
// mutations and publishes the resulting entity state to the local
// broker.
package state

import (
	"fmt"
	"log/slog"

	"github.com/rehau-bridge/nea-bridge/internal/model"
	"github.com/rehau-bridge/nea-bridge/internal/wire"
)

// confirmer is notified of channel_update confirmations for
// CommandEngine's pending-command slot.
type confirmer interface {
	Confirm(installID model.InstallationID, channelID model.ChannelID)
}

// publisher is the slice of BrokerLink StateEngine needs to publish
// entity state.
type publisher interface {
	PublishLocal(topic string, payload []byte, retained bool) error
}

// Engine is the StateEngine.
type Engine struct {
	store    *model.Store
	commands confirmer
	link     publisher
	log      *slog.Logger
}

func New(store *model.Store, commands confirmer, link publisher, log *slog.Logger) *Engine {
	return &Engine{store: store, commands: commands, link: link, log: log}
}

// Apply handles a decoded channel_update.
func (e *Engine) Apply(cu *wire.ChannelUpdate) {
	installID := model.InstallationID(cu.Unique)
	channelID := model.ChannelID(cu.Channel)

	zone, ok := e.store.ZoneByChannel(channelID)
	if !ok {
		e.log.Warn("state: channel_update for unknown channel", "channel", cu.Channel)
		return
	}

	e.store.MutateZoneByChannel(channelID, func(z *model.Zone) {
		e.applyFields(z, cu.Fields)
	})

	e.publishZone(zone)
	e.commands.Confirm(installID, channelID)
}

// ApplyRealtime handles a decoded realtime/realtime.update message.
func (e *Engine) ApplyRealtime(installID model.InstallationID, rt *wire.Realtime) {
	for _, rz := range rt.Zones {
		key := model.RoutingKey{ChannelZone: rz.ChannelZone, ControllerNumber: rz.Controller}
		zone, ok := e.store.ZoneByRouting(installID, key)
		if !ok {
			e.log.Warn("state: realtime zone with unknown routing key", "installation", installID, "channelZone", rz.ChannelZone, "controller", rz.Controller)
			continue
		}
		e.store.MutateZone(installID, key, func(z *model.Zone) {
			e.applyFields(z, rz.Fields)
		})
		e.publishZone(zone)
	}
}

// applyFields writes every scalar field the update carries, then
// derives mode/preset/target from mode_used.
func (e *Engine) applyFields(z *model.Zone, f wire.ChannelFields) {
	if f.TempZone != nil {
		v := wire.DecodeTemperature(*f.TempZone)
		z.CurrentTempC = &v
	}
	if f.Humidity != nil {
		z.HumidityPct = f.Humidity
	}
	if f.Demand != nil {
		z.DemandPct = f.Demand
	}
	if f.DemandState != nil {
		z.Demanding = *f.DemandState
	}
	if f.Dewpoint != nil {
		v := wire.DecodeTemperature(*f.Dewpoint)
		z.DewpointC = &v
	}
	if cfg, ok := wire.NormalizeCCConfig(f.CCConfigBits); ok {
		z.RingLight = cfg.RingActivation
		z.Locked = cfg.Lock
	}

	ApplyModeUsed(z, f)
}

// ApplyModeUsed decodes the mode_used field in isolation, so the
// installation bootstrap can seed a zone's mode/preset/target from its
// first snapshot the same way a live channel_update does, once the
// zone knows its InstallationMode.
func ApplyModeUsed(z *model.Zone, f wire.ChannelFields) {
	if f.ModeUsed == nil {
		return
	}
	switch *f.ModeUsed {
	case 2, 3: // standby, off
		z.Mode = model.ModeOff
		z.Preset = model.PresetNone
		z.TargetTempC = nil
	default: // 0 comfort, 1 power-save
		z.Mode = z.InstallationMode
		if *f.ModeUsed == 1 {
			z.Preset = model.PresetAway
		} else {
			z.Preset = model.PresetComfort
		}
		z.TargetTempC = selectSetpoint(z, f)
	}
}

// selectSetpoint picks the setpoint field matching the zone's current
// installation mode and preset, mirroring CommandEngine's choice of
// which field to write.
func selectSetpoint(z *model.Zone, f wire.ChannelFields) *float64 {
	var raw *int
	switch {
	case z.InstallationMode == model.ModeCool && z.Preset == model.PresetAway:
		raw = f.SetpointCReduced
	case z.InstallationMode == model.ModeCool:
		raw = f.SetpointCNormal
	case z.Preset == model.PresetAway:
		raw = f.SetpointHReduced
	default:
		raw = f.SetpointHNormal
	}
	if raw == nil {
		return z.TargetTempC
	}
	v := wire.DecodeTemperature(*raw)
	return &v
}

// publishZone publishes the zone's derived entity state to the
// state/sensor/binary_sensor leaves DiscoveryPublisher's topics expect.
func (e *Engine) publishZone(z *model.Zone) {
	base := "homeassistant"
	prefix := fmt.Sprintf("%s/climate/rehau_%s", base, z.ZoneID)

	e.publish(prefix+"/mode", []byte(string(z.Mode)), false)
	// Off always publishes the literal string "None" for preset and
	// target_temperature, never a numeric value or an empty payload.
	if z.Preset == model.PresetNone {
		e.publish(prefix+"/preset", []byte("None"), false)
	} else {
		e.publish(prefix+"/preset", []byte(string(z.Preset)), false)
	}
	if z.TargetTempC != nil {
		e.publish(prefix+"/target_temperature", []byte(formatTemp(*z.TargetTempC)), false)
	} else {
		e.publish(prefix+"/target_temperature", []byte("None"), false)
	}
	if z.CurrentTempC != nil {
		e.publish(fmt.Sprintf("%s/sensor/rehau_%s_temperature/state", base, z.ZoneID), []byte(formatTemp(*z.CurrentTempC)), false)
	}
	if z.HumidityPct != nil {
		e.publish(fmt.Sprintf("%s/sensor/rehau_%s_humidity/state", base, z.ZoneID), []byte(formatTemp(*z.HumidityPct)), false)
	}
	if z.DewpointC != nil {
		e.publish(fmt.Sprintf("%s/sensor/rehau_%s_dewpoint/state", base, z.ZoneID), []byte(formatTemp(*z.DewpointC)), false)
	}
	demandTopic := fmt.Sprintf("%s/binary_sensor/rehau_%s_demanding/state", base, z.ZoneID)
	if z.Demanding {
		e.publish(demandTopic, []byte("ON"), false)
	} else {
		e.publish(demandTopic, []byte("OFF"), false)
	}
	if z.DemandPct != nil {
		e.publish(fmt.Sprintf("%s/sensor/rehau_%s_demanding_percent/state", base, z.ZoneID), []byte(formatTemp(*z.DemandPct)), false)
	}

	lockState := "UNLOCK"
	if z.Locked {
		lockState = "LOCK"
	}
	e.publish(fmt.Sprintf("%s/lock/rehau_%s/state", base, z.ZoneID), []byte(lockState), false)

	lightState := "OFF"
	if z.RingLight {
		lightState = "ON"
	}
	e.publish(fmt.Sprintf("%s/light/rehau_%s_ring_light/state", base, z.ZoneID), []byte(lightState), false)
}

func (e *Engine) publish(topic string, payload []byte, retained bool) {
	if err := e.link.PublishLocal(topic, payload, retained); err != nil {
		e.log.Warn("state: publish failed", "topic", topic, "error", err)
	}
}

func formatTemp(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// InferInstallationMode infers the installation-wide heat/cool mode:
// cool iff the installation declares cooling support and at least one
// zone currently shows cooling activity (positive demand with only a
// cooling setpoint present). This runs once at startup, never per
// message.
func InferInstallationMode(inst *model.Installation, snapshots map[model.ZoneID]wire.ChannelFields) model.Mode {
	if !inst.CoolingSupported {
		return model.ModeHeat
	}
	for _, z := range inst.Zones() {
		f, ok := snapshots[z.ZoneID]
		if !ok {
			continue
		}
		coolingOnly := (f.SetpointCNormal != nil || f.SetpointCReduced != nil) &&
			f.SetpointHNormal == nil && f.SetpointHReduced == nil
		if coolingOnly && f.Demand != nil && *f.Demand > 0 {
			return model.ModeCool
		}
	}
	return model.ModeHeat
}
