package discovery

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rehau-bridge/nea-bridge/internal/model"
)

type fakeLink struct {
	configs  map[string]map[string]any
	states   map[string]string
	retained map[string]bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{configs: map[string]map[string]any{}, states: map[string]string{}, retained: map[string]bool{}}
}

func (f *fakeLink) PublishLocal(topic string, payload []byte, retained bool) error {
	f.retained[topic] = retained
	var cfg map[string]any
	if json.Unmarshal(payload, &cfg) == nil {
		f.configs[topic] = cfg
	}
	f.states[topic] = string(payload)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testZone() *model.Zone {
	return &model.Zone{
		ZoneID:           "zone-a",
		Name:             "Living Room",
		GroupName:        "Ground Floor",
		InstallID:        "inst-1",
		InstallationMode: model.ModeHeat,
	}
}

func TestSanitize_LowercasesAndReplacesSpaces(t *testing.T) {
	assert.Equal(t, "ground_floor", sanitize("Ground Floor"))
	assert.Equal(t, "living_room", sanitize("  Living Room  "))
}

func TestFriendlyName_UsesGroupOnlyWhenConfigured(t *testing.T) {
	assert.Equal(t, "Ground Floor Living Room", friendlyName(true, "Ground Floor", "Living Room"))
	assert.Equal(t, "Living Room", friendlyName(false, "Ground Floor", "Living Room"))
}

func TestEmitAll_PublishesClimateConfigWithExpectedTopicsAndObjectID(t *testing.T) {
	link := newFakeLink()
	pub := New(link, true, testLogger())
	zone := testZone()
	inst := &model.Installation{ID: "inst-1", Name: "Home", Groups: []*model.Group{{Name: "Ground Floor", Zones: []*model.Zone{zone}}}}

	pub.EmitAll([]*model.Installation{inst})

	cfgTopic := "homeassistant/climate/rehau_zone-a/config"
	require.Contains(t, link.configs, cfgTopic)
	cfg := link.configs[cfgTopic]
	assert.Equal(t, "Ground Floor Living Room", cfg["name"])
	assert.Equal(t, "rehau_zone-a_ground_floor", cfg["object_id"])
	assert.Equal(t, "homeassistant/climate/rehau_zone-a/temperature_command", cfg["temperature_command_topic"])
	assert.True(t, link.retained[cfgTopic])
}

func TestEmitAll_PublishesAvailabilityOnlineRetained(t *testing.T) {
	link := newFakeLink()
	pub := New(link, false, testLogger())
	zone := testZone()
	inst := &model.Installation{ID: "inst-1", Name: "Home", Groups: []*model.Group{{Name: "Ground Floor", Zones: []*model.Zone{zone}}}}

	pub.EmitAll([]*model.Installation{inst})

	topic := "homeassistant/climate/rehau_zone-a/availability"
	assert.Equal(t, "online", link.states[topic])
	assert.True(t, link.retained[topic])
}

func TestEmitAll_PublishesSensorLightAndLockConfigs(t *testing.T) {
	link := newFakeLink()
	pub := New(link, false, testLogger())
	zone := testZone()
	inst := &model.Installation{ID: "inst-1", Name: "Home", Groups: []*model.Group{{Name: "Ground Floor", Zones: []*model.Zone{zone}}}}

	pub.EmitAll([]*model.Installation{inst})

	assert.Contains(t, link.configs, "homeassistant/sensor/rehau_zone-a_temperature/config")
	assert.Contains(t, link.configs, "homeassistant/binary_sensor/rehau_zone-a_demanding/config")
	assert.Contains(t, link.configs, "homeassistant/light/rehau_zone-a_ring_light/config")
	assert.Contains(t, link.configs, "homeassistant/lock/rehau_zone-a/config")
}

func TestEmitAll_PublishesInstallationModeState(t *testing.T) {
	link := newFakeLink()
	pub := New(link, false, testLogger())
	inst := &model.Installation{ID: "inst-1", Name: "Home", Mode: model.ModeCool}

	pub.EmitAll([]*model.Installation{inst})

	topic := "homeassistant/climate/rehau_install_inst-1_mode/mode"
	assert.Equal(t, "cool", link.states[topic])
	assert.True(t, link.retained[topic])
}

func TestEmitAll_PublishesInstallationOutsideTemperatureWhenPresent(t *testing.T) {
	link := newFakeLink()
	pub := New(link, false, testLogger())
	temp := 12.5
	inst := &model.Installation{ID: "inst-1", Name: "Home", OutsideTempC: &temp}

	pub.EmitAll([]*model.Installation{inst})

	assert.Equal(t, "12.5", link.states["homeassistant/sensor/rehau_install_inst-1_outside_temperature/state"])
}

func TestEmitAll_SkipsInstallationOutsideTemperatureWhenAbsent(t *testing.T) {
	link := newFakeLink()
	pub := New(link, false, testLogger())
	inst := &model.Installation{ID: "inst-1", Name: "Home"}

	pub.EmitAll([]*model.Installation{inst})

	assert.NotContains(t, link.states, "homeassistant/sensor/rehau_install_inst-1_outside_temperature/state")
}
