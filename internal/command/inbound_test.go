package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rehau-bridge/nea-bridge/internal/model"
)

type fakeZoneLookup struct {
	zones map[model.ZoneID]*model.Zone
}

func (f *fakeZoneLookup) ZoneByID(id model.ZoneID) (*model.Zone, bool) {
	z, ok := f.zones[id]
	return z, ok
}

type fakeEnqueuer struct {
	requests []Request
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, req Request) error {
	f.requests = append(f.requests, req)
	return nil
}

func newTestDispatcher() (*Dispatcher, *fakeEnqueuer) {
	zone := &model.Zone{ZoneID: "abc123", InstallID: "inst-1", ChannelID: "chan-a", Preset: model.PresetComfort}
	store := &fakeZoneLookup{zones: map[model.ZoneID]*model.Zone{"abc123": zone}}
	eng := &fakeEnqueuer{}
	return NewDispatcher(store, eng, testLogger()), eng
}

func TestCommandTopics_ReturnsAllFiveTopicsForZone(t *testing.T) {
	topics := CommandTopics("abc123")
	assert.ElementsMatch(t, []string{
		"homeassistant/climate/rehau_abc123/mode_command",
		"homeassistant/climate/rehau_abc123/preset_command",
		"homeassistant/climate/rehau_abc123/temperature_command",
		"homeassistant/light/rehau_abc123_ring_light/set",
		"homeassistant/lock/rehau_abc123/set",
	}, topics)
}

func TestHandleLocal_SetModeEnqueuesModeCommand(t *testing.T) {
	d, eng := newTestDispatcher()
	d.HandleLocal(context.Background(), "homeassistant/climate/rehau_abc123/mode_command", []byte("heat"))

	require.Len(t, eng.requests, 1)
	assert.Equal(t, model.CommandMode, eng.requests[0].Type)
	assert.Equal(t, model.ModeHeat, eng.requests[0].Mode)
}

func TestHandleLocal_SetModeRejectsInvalidPayload(t *testing.T) {
	d, eng := newTestDispatcher()
	d.HandleLocal(context.Background(), "homeassistant/climate/rehau_abc123/mode_command", []byte("blazing"))

	assert.Empty(t, eng.requests)
}

func TestHandleLocal_SetPresetEnqueuesPresetCommand(t *testing.T) {
	d, eng := newTestDispatcher()
	d.HandleLocal(context.Background(), "homeassistant/climate/rehau_abc123/preset_command", []byte("away"))

	require.Len(t, eng.requests, 1)
	assert.Equal(t, model.CommandPreset, eng.requests[0].Type)
	assert.Equal(t, model.PresetAway, eng.requests[0].Preset)
}

func TestHandleLocal_SetTemperatureParsesFloatPayload(t *testing.T) {
	d, eng := newTestDispatcher()
	d.HandleLocal(context.Background(), "homeassistant/climate/rehau_abc123/temperature_command", []byte("21.5"))

	require.Len(t, eng.requests, 1)
	assert.Equal(t, model.CommandTemperature, eng.requests[0].Type)
	assert.Equal(t, 21.5, eng.requests[0].TempC)
}

func TestHandleLocal_SetTemperatureRejectsNonNumericPayload(t *testing.T) {
	d, eng := newTestDispatcher()
	d.HandleLocal(context.Background(), "homeassistant/climate/rehau_abc123/temperature_command", []byte("warm"))

	assert.Empty(t, eng.requests)
}

func TestHandleLocal_RingLightAndLockParseOnOff(t *testing.T) {
	d, eng := newTestDispatcher()
	d.HandleLocal(context.Background(), "homeassistant/light/rehau_abc123_ring_light/set", []byte("ON"))
	d.HandleLocal(context.Background(), "homeassistant/lock/rehau_abc123/set", []byte("OFF"))

	require.Len(t, eng.requests, 2)
	assert.Equal(t, model.CommandRingLight, eng.requests[0].Type)
	assert.True(t, eng.requests[0].On)
	assert.Equal(t, model.CommandLock, eng.requests[1].Type)
	assert.False(t, eng.requests[1].On)
}

func TestHandleLocal_RejectsUnrecognisedOnOffPayload(t *testing.T) {
	d, eng := newTestDispatcher()
	d.HandleLocal(context.Background(), "homeassistant/light/rehau_abc123_ring_light/set", []byte("maybe"))

	assert.Empty(t, eng.requests)
}

func TestHandleLocal_UnknownZoneIsDroppedWithoutPanicking(t *testing.T) {
	d, eng := newTestDispatcher()
	d.HandleLocal(context.Background(), "homeassistant/climate/rehau_ffffff/mode_command", []byte("heat"))

	assert.Empty(t, eng.requests)
}

func TestHandleLocal_UnrecognisedTopicIsIgnored(t *testing.T) {
	d, eng := newTestDispatcher()
	d.HandleLocal(context.Background(), "homeassistant/switch/rehau_abc123/set", []byte("ON"))

	assert.Empty(t, eng.requests)
}
