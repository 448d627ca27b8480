package vendorapi

import (
	"encoding/json"
	"fmt"

	"github.com/rehau-bridge/nea-bridge/internal/model"
	"github.com/rehau-bridge/nea-bridge/internal/wire"
)

// groupDTO and zoneDTO mirror the shape the vendor's getDataofInstall
// response uses for an installation's groups, the way ChannelUpdate and
// RealtimeZone mirror the shape of MQTT payloads: one struct per wire
// document, decoded once at the edge.
type groupDTO struct {
	Name  string    `json:"name"`
	Zones []zoneDTO `json:"zones"`
}

type zoneDTO struct {
	ZoneID           string              `json:"_id"`
	ZoneNumber       int                 `json:"zone_number"`
	ChannelZone      int                 `json:"channelZone"`
	ControllerNumber int                 `json:"controllerNumber"`
	ChannelID        string              `json:"channel_id"`
	Name             string              `json:"name"`
	Fields           wire.ChannelFields  `json:"data"`
}

// BuildInstallation decodes one snapshot's raw groups payload into a
// full Installation, including each zone's last-known fields so
// InferInstallationMode has something to inspect at startup. Zones
// start with InstallationMode unset; the caller assigns it once the
// inference runs.
func BuildInstallation(snap InstallSnapshot) (*model.Installation, map[model.ZoneID]wire.ChannelFields, error) {
	var groups []groupDTO
	if len(snap.Groups) > 0 {
		if err := json.Unmarshal(snap.Groups, &groups); err != nil {
			return nil, nil, fmt.Errorf("vendorapi: decode groups for installation %s: %w", snap.ID, err)
		}
	}

	inst := &model.Installation{
		ID:               model.InstallationID(snap.ID),
		Name:             snap.Name,
		CoolingSupported: snap.CoolingSupported,
	}
	if snap.OutsideTempRaw != nil {
		v := wire.DecodeTemperature(*snap.OutsideTempRaw)
		inst.OutsideTempC = &v
	}

	snapshots := make(map[model.ZoneID]wire.ChannelFields)

	for _, g := range groups {
		group := &model.Group{Name: g.Name}
		for _, z := range g.Zones {
			zone := &model.Zone{
				ZoneID:           model.ZoneID(z.ZoneID),
				ZoneNumber:       z.ZoneNumber,
				ChannelZone:      z.ChannelZone,
				ControllerNumber: z.ControllerNumber,
				ChannelID:        model.ChannelID(z.ChannelID),
				Name:             z.Name,
				GroupName:        g.Name,
				InstallID:        inst.ID,
				Available:        true,
			}
			applySnapshotFields(zone, z.Fields)
			group.Zones = append(group.Zones, zone)
			snapshots[zone.ZoneID] = z.Fields
		}
		inst.Groups = append(inst.Groups, group)
	}

	return inst, snapshots, nil
}

// applySnapshotFields seeds a freshly built zone's readings from its
// initial snapshot, the same field mapping state.Engine.applyFields
// uses for a live update, minus the mode/preset derivation (done once
// installation-wide after every zone is built, since it depends on
// InstallationMode which isn't known yet).
func applySnapshotFields(z *model.Zone, f wire.ChannelFields) {
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
}
