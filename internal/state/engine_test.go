package state

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rehau-bridge/nea-bridge/internal/model"
	"github.com/rehau-bridge/nea-bridge/internal/wire"
)

type fakePublisher struct {
	published map[string]string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string]string)}
}

func (f *fakePublisher) PublishLocal(topic string, payload []byte, retained bool) error {
	f.published[topic] = string(payload)
	return nil
}

type fakeConfirmer struct {
	confirmed []model.ChannelID
}

func (f *fakeConfirmer) Confirm(installID model.InstallationID, channelID model.ChannelID) {
	f.confirmed = append(f.confirmed, channelID)
}

func testZone() *model.Zone {
	return &model.Zone{
		ZoneID:           "zone-a",
		ChannelZone:      3,
		ControllerNumber: 0,
		ChannelID:        "chan-a",
		InstallID:        "inst-1",
		InstallationMode: model.ModeHeat,
	}
}

func newTestEngine(t *testing.T, zone *model.Zone) (*Engine, *fakePublisher, *fakeConfirmer) {
	store := model.NewStore()
	require.NoError(t, store.SetInstallation(&model.Installation{
		ID:     "inst-1",
		Groups: []*model.Group{{Name: "living", Zones: []*model.Zone{zone}}},
	}))
	pub := newFakePublisher()
	conf := &fakeConfirmer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, conf, pub, log), pub, conf
}

func TestApply_OffModePublishesLiteralNone(t *testing.T) {
	zone := testZone()
	engine, pub, conf := newTestEngine(t, zone)

	modeUsed := 2 // off
	cu := &wire.ChannelUpdate{Channel: "chan-a", Unique: "inst-1", Fields: wire.ChannelFields{ModeUsed: &modeUsed}}
	engine.Apply(cu)

	assert.Equal(t, "None", pub.published["homeassistant/climate/rehau_zone-a/preset"])
	assert.Equal(t, "None", pub.published["homeassistant/climate/rehau_zone-a/target_temperature"])
	assert.Equal(t, "off", pub.published["homeassistant/climate/rehau_zone-a/mode"])
	require.Len(t, conf.confirmed, 1)
	assert.Equal(t, model.ChannelID("chan-a"), conf.confirmed[0])
}

func TestApply_ComfortModePublishesNumericSetpoint(t *testing.T) {
	zone := testZone()
	engine, pub, _ := newTestEngine(t, zone)

	modeUsed := 0 // comfort
	setpoint := 725 // 22.5C
	cu := &wire.ChannelUpdate{Channel: "chan-a", Unique: "inst-1", Fields: wire.ChannelFields{
		ModeUsed:        &modeUsed,
		SetpointHNormal: &setpoint,
	}}
	engine.Apply(cu)

	assert.Equal(t, "comfort", pub.published["homeassistant/climate/rehau_zone-a/preset"])
	assert.Equal(t, "22.5", pub.published["homeassistant/climate/rehau_zone-a/target_temperature"])
}

func TestApply_UnknownChannelIsDroppedWithoutPanicking(t *testing.T) {
	zone := testZone()
	engine, pub, conf := newTestEngine(t, zone)

	cu := &wire.ChannelUpdate{Channel: "does-not-exist", Unique: "inst-1", Fields: wire.ChannelFields{}}
	engine.Apply(cu)

	assert.Empty(t, pub.published)
	assert.Empty(t, conf.confirmed)
}

func TestApplyRealtime_UnknownRoutingKeyIsSkipped(t *testing.T) {
	zone := testZone()
	engine, pub, _ := newTestEngine(t, zone)

	rt := &wire.Realtime{Zones: []wire.RealtimeZone{
		{ZoneID: "zone-a", ChannelZone: 99, Controller: 99},
	}}
	engine.ApplyRealtime("inst-1", rt)

	assert.Empty(t, pub.published)
}

func TestApplyRealtime_KnownRoutingKeyPublishesReading(t *testing.T) {
	zone := testZone()
	engine, pub, _ := newTestEngine(t, zone)

	temp := 725
	rt := &wire.Realtime{Zones: []wire.RealtimeZone{
		{ZoneID: "zone-a", ChannelZone: 3, Controller: 0, Fields: wire.ChannelFields{TempZone: &temp}},
	}}
	engine.ApplyRealtime("inst-1", rt)

	assert.Equal(t, "22.5", pub.published["homeassistant/sensor/rehau_zone-a_temperature/state"])
}
