package command

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rehau-bridge/nea-bridge/internal/model"
	"github.com/rehau-bridge/nea-bridge/internal/wire"
)

type fakeVendorLink struct {
	mu       sync.Mutex
	topics   []string
	payloads []map[string]any
}

func (f *fakeVendorLink) PublishVendor(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)

	var decoded wire.CommandPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return err
	}
	f.payloads = append(f.payloads, decoded.Data)
	return nil
}

func (f *fakeVendorLink) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

func (f *fakeVendorLink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topics)
}

func newTestZone() *model.Zone {
	return &model.Zone{
		ZoneID:           "zone-a",
		ChannelZone:      3,
		ControllerNumber: 0,
		ChannelID:        "chan-a",
		InstallID:        "inst-1",
		InstallationMode: model.ModeHeat,
		Preset:           model.PresetComfort,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnqueue_ModeCommandUsesFallbackNumericKeyWhenReferentialUnset(t *testing.T) {
	link := &fakeVendorLink{}
	eng := New(link, nil, time.Minute, 3, testLogger())

	zone := newTestZone()
	err := eng.Enqueue(context.Background(), Request{Zone: zone, Type: model.CommandMode, Mode: model.ModeOff})
	require.NoError(t, err)

	require.Equal(t, 1, link.count())
	assert.Equal(t, "client/inst-1", link.topics[0])
	assert.Equal(t, float64(2), link.last()["15"])
}

func TestEnqueue_TemperatureCommandPicksSetpointFieldByModeAndPreset(t *testing.T) {
	link := &fakeVendorLink{}
	eng := New(link, nil, time.Minute, 3, testLogger())

	zone := newTestZone()
	zone.Preset = model.PresetAway
	err := eng.Enqueue(context.Background(), Request{Zone: zone, Type: model.CommandTemperature, TempC: 21, Preset: model.PresetAway})
	require.NoError(t, err)

	assert.Contains(t, link.last(), "17") // setpoint_h_reduced fallback key
}

func TestEnqueue_RingLightAndLockEncodeBooleans(t *testing.T) {
	link := &fakeVendorLink{}
	eng := New(link, nil, time.Minute, 3, testLogger())
	zone := newTestZone()

	require.NoError(t, eng.Enqueue(context.Background(), Request{Zone: zone, Type: model.CommandRingLight, On: true}))
	assert.Equal(t, float64(1), link.last()["34"])

	require.NoError(t, eng.Enqueue(context.Background(), Request{Zone: zone, Type: model.CommandLock, On: false}))
	assert.Equal(t, false, link.last()["31"])
}

func TestEnqueue_CoalescesPreviousPendingCommand(t *testing.T) {
	link := &fakeVendorLink{}
	eng := New(link, nil, time.Hour, 3, testLogger())
	zone := newTestZone()

	require.NoError(t, eng.Enqueue(context.Background(), Request{Zone: zone, Type: model.CommandMode, Mode: model.ModeHeat}))
	s := eng.slot(zone.InstallID)
	s.mu.Lock()
	firstPending := s.pending
	s.mu.Unlock()
	require.NotNil(t, firstPending)

	require.NoError(t, eng.Enqueue(context.Background(), Request{Zone: zone, Type: model.CommandMode, Mode: model.ModeOff}))
	s.mu.Lock()
	secondPending := s.pending
	s.mu.Unlock()

	require.NotNil(t, secondPending)
	assert.NotEqual(t, firstPending.ID, secondPending.ID)
	assert.Equal(t, 2, link.count())
}

func TestConfirm_MatchesByChannelIDRegardlessOfFieldChanged(t *testing.T) {
	link := &fakeVendorLink{}
	eng := New(link, nil, time.Hour, 3, testLogger())
	zone := newTestZone()

	require.NoError(t, eng.Enqueue(context.Background(), Request{Zone: zone, Type: model.CommandMode, Mode: model.ModeHeat}))

	eng.Confirm(zone.InstallID, zone.ChannelID)

	s := eng.slot(zone.InstallID)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Nil(t, s.pending)
}

func TestConfirm_IgnoresMismatchedChannelID(t *testing.T) {
	link := &fakeVendorLink{}
	eng := New(link, nil, time.Hour, 3, testLogger())
	zone := newTestZone()

	require.NoError(t, eng.Enqueue(context.Background(), Request{Zone: zone, Type: model.CommandMode, Mode: model.ModeHeat}))
	eng.Confirm(zone.InstallID, "some-other-channel")

	s := eng.slot(zone.InstallID)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotNil(t, s.pending)
}

func TestEnqueue_RingLightAutoConfirmsWithoutWaitingForChannelUpdate(t *testing.T) {
	link := &fakeVendorLink{}
	eng := New(link, nil, time.Hour, 3, testLogger())
	zone := newTestZone()

	require.NoError(t, eng.Enqueue(context.Background(), Request{Zone: zone, Type: model.CommandRingLight, On: true}))

	assert.Eventually(t, func() bool {
		s := eng.slot(zone.InstallID)
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pending == nil
	}, 3*time.Second, 50*time.Millisecond)
}
