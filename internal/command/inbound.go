package command

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/rehau-bridge/nea-bridge/internal/model"
)

// zoneLookup is the slice of model.Store the inbound dispatcher needs.
type zoneLookup interface {
	ZoneByID(id model.ZoneID) (*model.Zone, bool)
}

// enqueuer is the slice of Engine the inbound dispatcher needs, kept
// narrow so it is trivial to fake in tests.
type enqueuer interface {
	Enqueue(ctx context.Context, req Request) error
}

// climateTopic matches the climate mode/preset/temperature command
// topics DiscoveryPublisher advertises.
var climateTopic = regexp.MustCompile(`^homeassistant/climate/rehau_([0-9a-f]+)/(mode_command|preset_command|temperature_command)$`)

// ringLightTopic and lockTopic match the light/lock command topics.
var ringLightTopic = regexp.MustCompile(`^homeassistant/light/rehau_([0-9a-f]+)_ring_light/set$`)
var lockTopic = regexp.MustCompile(`^homeassistant/lock/rehau_([0-9a-f]+)/set$`)

// Dispatcher routes local-broker command topics to Engine.Enqueue:
// local MQTT command -> logical Request -> CommandEngine.
type Dispatcher struct {
	store zoneLookup
	eng   enqueuer
	log   *slog.Logger
}

func NewDispatcher(store zoneLookup, eng enqueuer, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, eng: eng, log: log}
}

// CommandTopics returns every command-topic pattern the bridge must
// subscribe to on the local broker for the given zone, so main's
// startup wiring and this dispatcher never drift apart.
func CommandTopics(zoneID model.ZoneID) []string {
	base := "homeassistant/climate/rehau_" + string(zoneID)
	return []string{
		base + "/mode_command",
		base + "/preset_command",
		base + "/temperature_command",
		"homeassistant/light/rehau_" + string(zoneID) + "_ring_light/set",
		"homeassistant/lock/rehau_" + string(zoneID) + "/set",
	}
}

// HandleLocal is the Link.OnMessage handler for local-broker commands.
// Messages on topics it doesn't recognise are ignored; malformed
// payloads are logged and dropped, never retried.
func (d *Dispatcher) HandleLocal(ctx context.Context, topic string, payload []byte) {
	if m := climateTopic.FindStringSubmatch(topic); m != nil {
		d.handleClimate(ctx, model.ZoneID(m[1]), m[2], string(payload))
		return
	}
	if m := ringLightTopic.FindStringSubmatch(topic); m != nil {
		d.handleBool(ctx, model.ZoneID(m[1]), model.CommandRingLight, string(payload))
		return
	}
	if m := lockTopic.FindStringSubmatch(topic); m != nil {
		d.handleBool(ctx, model.ZoneID(m[1]), model.CommandLock, string(payload))
		return
	}
}

func (d *Dispatcher) zone(zoneID model.ZoneID) (*model.Zone, bool) {
	z, ok := d.store.ZoneByID(zoneID)
	if !ok {
		d.log.Warn("command: inbound message for unknown zone", "zone", zoneID)
	}
	return z, ok
}

func (d *Dispatcher) handleClimate(ctx context.Context, zoneID model.ZoneID, leaf, payload string) {
	z, ok := d.zone(zoneID)
	if !ok {
		return
	}

	var req Request
	req.Zone = z

	switch leaf {
	case "mode_command":
		mode := model.Mode(payload)
		if mode != model.ModeOff && mode != model.ModeHeat && mode != model.ModeCool {
			d.log.Warn("command: invalid mode payload", "zone", zoneID, "payload", payload)
			return
		}
		req.Type = model.CommandMode
		req.Mode = mode
	case "preset_command":
		preset := model.Preset(payload)
		if preset != model.PresetComfort && preset != model.PresetAway {
			d.log.Warn("command: invalid preset payload", "zone", zoneID, "payload", payload)
			return
		}
		req.Type = model.CommandPreset
		req.Preset = preset
	case "temperature_command":
		temp, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			d.log.Warn("command: invalid temperature payload", "zone", zoneID, "payload", payload, "error", err)
			return
		}
		req.Type = model.CommandTemperature
		req.Preset = z.Preset
		req.TempC = temp
	default:
		return
	}

	if err := d.eng.Enqueue(ctx, req); err != nil {
		d.log.Error("command: enqueue failed", "zone", zoneID, "type", req.Type, "error", err)
	}
}

func (d *Dispatcher) handleBool(ctx context.Context, zoneID model.ZoneID, cmdType model.CommandType, payload string) {
	z, ok := d.zone(zoneID)
	if !ok {
		return
	}
	on, err := parseOnOff(payload)
	if err != nil {
		d.log.Warn("command: invalid on/off payload", "zone", zoneID, "type", cmdType, "payload", payload)
		return
	}
	req := Request{Zone: z, Type: cmdType, On: on}
	if err := d.eng.Enqueue(ctx, req); err != nil {
		d.log.Error("command: enqueue failed", "zone", zoneID, "type", cmdType, "error", err)
	}
}

func parseOnOff(payload string) (bool, error) {
	switch payload {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	default:
		return false, fmt.Errorf("command: unrecognised on/off payload %q", payload)
	}
}
