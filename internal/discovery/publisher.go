// Package discovery emits and maintains Home-Assistant-style MQTT
// discovery configs on the local broker for every zone and installation
// so the automation platform auto-creates entities, re-emitting after
// every ZonePoller reload and local-broker reconnect.
package discovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rehau-bridge/nea-bridge/internal/model"
)

// publisher is the slice of BrokerLink DiscoveryPublisher needs.
type publisher interface {
	PublishLocal(topic string, payload []byte, retained bool) error
}

// Publisher is the DiscoveryPublisher.
type Publisher struct {
	link            publisher
	log             *slog.Logger
	useGroupInNames bool
}

func New(link publisher, useGroupInNames bool, log *slog.Logger) *Publisher {
	return &Publisher{link: link, useGroupInNames: useGroupInNames, log: log}
}

// sanitize lowercases and replaces spaces with underscores, the rule
// every object_id follows.
func sanitize(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

func friendlyName(useGroup bool, group, zone string) string {
	if useGroup {
		return fmt.Sprintf("%s %s", group, zone)
	}
	return zone
}

// device is the HA discovery "device" block grouping every entity for
// one zone under a single device card.
type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

func zoneDevice(z *model.Zone) device {
	return device{
		Identifiers:  []string{"rehau_" + string(z.ZoneID)},
		Name:         z.Name,
		Manufacturer: "REHAU",
		Model:        "NEA SMART 2.0",
	}
}

// EmitAll publishes every discovery config for the given installations
// and marks their zones available.
func (p *Publisher) EmitAll(installations []*model.Installation) {
	for _, inst := range installations {
		p.emitInstallation(inst)
		for _, z := range inst.Zones() {
			p.emitZone(z)
		}
	}
}

func (p *Publisher) emitZone(z *model.Zone) {
	objectID := fmt.Sprintf("rehau_%s", z.ZoneID)
	name := friendlyName(p.useGroupInNames, z.GroupName, z.Name)
	groupSuffix := sanitize(z.GroupName)
	dev := zoneDevice(z)

	p.publishConfig("climate", objectID, map[string]any{
		"name":                     name,
		"unique_id":                objectID,
		"modes":                    []string{"off", string(z.InstallationMode)},
		"preset_modes":             []string{"comfort", "away"},
		"temperature_state_topic":  climateTopic(z, "target_temperature"),
		"temperature_command_topic": climateTopic(z, "temperature_command"),
		"mode_state_topic":         climateTopic(z, "mode"),
		"mode_command_topic":       climateTopic(z, "mode_command"),
		"preset_mode_state_topic":  climateTopic(z, "preset"),
		"preset_mode_command_topic": climateTopic(z, "preset_command"),
		"current_temperature_topic": sensorTopic(z, "temperature", "state"),
		"temp_step":                0.5,
		"min_temp":                 5,
		"max_temp":                 30,
		"precision":                0.1,
		"optimistic":               true,
		"availability_topic":       climateTopic(z, "availability"),
		"device":                   dev,
		"object_id":                objectID + "_" + groupSuffix,
	})

	for _, sensor := range []string{"temperature", "humidity", "demanding_percent", "dewpoint"} {
		p.publishConfig("sensor", objectID+"_"+sensor, map[string]any{
			"name":               name + " " + strings.ReplaceAll(sensor, "_", " "),
			"unique_id":          objectID + "_" + sensor,
			"state_topic":        sensorTopic(z, sensor, "state"),
			"availability_topic": climateTopic(z, "availability"),
			"device":             dev,
			"object_id":          objectID + "_" + sensor + "_" + groupSuffix,
		})
	}

	p.publishConfig("binary_sensor", objectID+"_demanding", map[string]any{
		"name":               name + " demanding",
		"unique_id":          objectID + "_demanding",
		"device_class":       "heat",
		"state_topic":        fmt.Sprintf("homeassistant/binary_sensor/%s_demanding/state", objectID),
		"availability_topic": climateTopic(z, "availability"),
		"device":             dev,
		"object_id":          objectID + "_demanding_" + groupSuffix,
	})

	p.publishConfig("light", objectID+"_ring_light", map[string]any{
		"name":               name + " ring light",
		"unique_id":          objectID + "_ring_light",
		"state_topic":        fmt.Sprintf("homeassistant/light/%s_ring_light/state", objectID),
		"command_topic":      fmt.Sprintf("homeassistant/light/%s_ring_light/set", objectID),
		"optimistic":         true,
		"availability_topic": climateTopic(z, "availability"),
		"device":             dev,
		"object_id":          objectID + "_ring_light_" + groupSuffix,
	})

	p.publishConfig("lock", objectID, map[string]any{
		"name":               name + " lock",
		"unique_id":          objectID + "_lock",
		"state_topic":        fmt.Sprintf("homeassistant/lock/%s/state", objectID),
		"command_topic":      fmt.Sprintf("homeassistant/lock/%s/set", objectID),
		"optimistic":         true,
		"availability_topic": climateTopic(z, "availability"),
		"device":             dev,
		"object_id":          objectID + "_lock_" + groupSuffix,
	})

	p.publish(climateTopic(z, "availability"), "online", true)
}

func (p *Publisher) emitInstallation(inst *model.Installation) {
	objectID := fmt.Sprintf("rehau_install_%s", inst.ID)
	dev := device{Identifiers: []string{objectID}, Name: inst.Name, Manufacturer: "REHAU", Model: "NEA SMART 2.0 Controller"}

	p.publishConfig("sensor", objectID+"_outside_temperature", map[string]any{
		"name":        inst.Name + " outside temperature",
		"unique_id":   objectID + "_outside_temperature",
		"state_topic": fmt.Sprintf("homeassistant/sensor/%s_outside_temperature/state", objectID),
		"device":      dev,
		"object_id":   objectID + "_outside_temperature",
	})

	modeStateTopic := fmt.Sprintf("homeassistant/climate/%s_mode/mode", objectID)
	p.publishConfig("climate", objectID+"_mode", map[string]any{
		"name":              inst.Name + " mode",
		"unique_id":         objectID + "_mode",
		"modes":             []string{"heat", "cool"},
		"mode_state_topic":  modeStateTopic,
		"optimistic":        true,
		"device":            dev,
		"object_id":         objectID + "_mode",
	})
	// inst.Mode is inferred once at startup and never changes
	// afterward, so every EmitAll re-publishes the current value: this
	// is the entity's only state update, and it must fire on first
	// discovery or it stays "unknown" in Home Assistant forever.
	p.publish(modeStateTopic, string(inst.Mode), true)

	if inst.OutsideTempC != nil {
		p.publish(fmt.Sprintf("homeassistant/sensor/%s_outside_temperature/state", objectID), fmt.Sprintf("%.1f", *inst.OutsideTempC), false)
	}
}

func (p *Publisher) publishConfig(domain, objectID string, cfg map[string]any) {
	data, err := json.Marshal(cfg)
	if err != nil {
		p.log.Error("discovery: marshal config failed", "domain", domain, "object_id", objectID, "error", err)
		return
	}
	topic := fmt.Sprintf("homeassistant/%s/%s/config", domain, objectID)
	p.publish(topic, string(data), true)
}

func (p *Publisher) publish(topic, payload string, retained bool) {
	if err := p.link.PublishLocal(topic, []byte(payload), retained); err != nil {
		p.log.Warn("discovery: publish failed", "topic", topic, "error", err)
	}
}

func climateTopic(z *model.Zone, leaf string) string {
	return fmt.Sprintf("homeassistant/climate/rehau_%s/%s", z.ZoneID, leaf)
}

func sensorTopic(z *model.Zone, sensor, leaf string) string {
	return fmt.Sprintf("homeassistant/sensor/rehau_%s_%s/%s", z.ZoneID, sensor, leaf)
}
