// Package command turns logical commands (mode/preset/temperature/
// ring_light/lock changes) into vendor MQTT publishes, holding at most
// one outstanding command per installation with latest-wins coalescing
// and confirmation-based retry.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rehau-bridge/nea-bridge/internal/model"
	"github.com/rehau-bridge/nea-bridge/internal/wire"
)

// publisher is the slice of BrokerLink CommandEngine needs.
type publisher interface {
	PublishVendor(topic string, payload []byte) error
}

// Request is a logical command from the local side.
type Request struct {
	Zone    *model.Zone
	Type    model.CommandType
	Mode    model.Mode   // CommandMode
	Preset  model.Preset // CommandPreset, or the preset in effect for CommandTemperature
	TempC   float64      // CommandTemperature
	On      bool         // CommandRingLight, CommandLock
}

// autoConfirmTypes never receive a vendor confirmation; they are
// marked done after a fixed delay instead.
var autoConfirmTypes = map[model.CommandType]bool{
	model.CommandRingLight: true,
	model.CommandLock:      true,
}

// installationSlot holds the single pending command for one
// installation, plus the cancel func that stops its retry timer when a
// newer command coalesces over it.
type installationSlot struct {
	mu      sync.Mutex
	pending *model.PendingCommand
	cancel  context.CancelFunc
}

// Engine is the CommandEngine.
type Engine struct {
	link        publisher
	ref         referentialLookup
	log         *slog.Logger
	retryTimeout time.Duration
	maxRetries   int

	slotsMu sync.Mutex
	slots   map[model.InstallationID]*installationSlot
}

// New builds a CommandEngine. ref may be nil until ReferentialStore
// has loaded; resolveKey falls back to the documented numeric keys.
func New(link publisher, ref referentialLookup, retryTimeout time.Duration, maxRetries int, log *slog.Logger) *Engine {
	return &Engine{
		link:         link,
		ref:          ref,
		log:          log,
		retryTimeout: retryTimeout,
		maxRetries:   maxRetries,
		slots:        make(map[model.InstallationID]*installationSlot),
	}
}

func (e *Engine) slot(installID model.InstallationID) *installationSlot {
	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	s, ok := e.slots[installID]
	if !ok {
		s = &installationSlot{}
		e.slots[installID] = s
	}
	return s
}

// Enqueue accepts a logical command with latest-wins coalescing: a
// command already pending stops waiting for its confirmation, any
// queued command is discarded, and the new command is sent immediately.
func (e *Engine) Enqueue(ctx context.Context, req Request) error {
	s := e.slot(req.Zone.InstallID)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel() // stop waiting on the stale pending command's retry timer
	}
	s.pending = nil
	s.mu.Unlock()

	return e.send(ctx, s, req)
}

func (e *Engine) send(ctx context.Context, s *installationSlot, req Request) error {
	payload, err := e.buildPayload(req)
	if err != nil {
		return err
	}

	pending := &model.PendingCommand{
		ID:        uuid.NewString(),
		InstallID: req.Zone.InstallID,
		ZoneID:    req.Zone.ZoneID,
		ChannelID: req.Zone.ChannelID,
		Type:      req.Type,
		Payload:   payload.Data,
		SentAt:    time.Now(),
		Retries:   0,
	}

	if err := e.publish(req.Zone.InstallID, payload); err != nil {
		return fmt.Errorf("command: publish: %w", err)
	}

	retryCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.pending = pending
	s.cancel = cancel
	s.mu.Unlock()

	if autoConfirmTypes[req.Type] {
		go e.autoConfirm(retryCtx, s, pending)
	} else {
		go e.retryLoop(retryCtx, s, req)
	}
	return nil
}

func (e *Engine) autoConfirm(ctx context.Context, s *installationSlot, pending *model.PendingCommand) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
	}
	s.mu.Lock()
	if s.pending == pending {
		s.pending = nil
	}
	s.mu.Unlock()
}

// retryLoop ticks every 5s; after COMMAND_RETRY_TIMEOUT without
// confirmation it re-sends, up to COMMAND_MAX_RETRIES, then drops the
// command.
func (e *Engine) retryLoop(ctx context.Context, s *installationSlot, req Request) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			pending := s.pending
			s.mu.Unlock()
			if pending == nil {
				return // confirmed
			}
			if time.Since(pending.SentAt) < e.retryTimeout {
				continue
			}
			if pending.Retries >= e.maxRetries {
				e.log.Error("command: dropping unconfirmed command after max retries",
					"installation", req.Zone.InstallID, "type", req.Type, "retries", pending.Retries)
				s.mu.Lock()
				if s.pending == pending {
					s.pending = nil
				}
				s.mu.Unlock()
				return
			}

			payload, err := e.buildPayload(req)
			if err != nil {
				e.log.Error("command: rebuild payload for retry failed", "error", err)
				return
			}
			if err := e.publish(req.Zone.InstallID, payload); err != nil {
				e.log.Warn("command: retry publish failed", "error", err)
				continue
			}
			pending.Retries++
			pending.SentAt = time.Now()
		}
	}
}

// Confirm is called by StateEngine with the channelId of an incoming
// channel_update; if it matches the pending command for that zone's
// installation, the slot is cleared regardless of which field changed.
// The vendor may publish one consolidated update covering several
// fields, so insisting on a field-level match causes spurious retries.
func (e *Engine) Confirm(installID model.InstallationID, channelID model.ChannelID) {
	e.slotsMu.Lock()
	s, ok := e.slots[installID]
	e.slotsMu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil && s.pending.ChannelID == channelID {
		s.pending = nil
	}
}

func (e *Engine) publish(installID model.InstallationID, payload wire.CommandPayload) error {
	data, err := payload.Marshal()
	if err != nil {
		return err
	}
	return e.link.PublishVendor("client/"+string(installID), data)
}

// buildPayload translates a logical Request into the vendor's wire
// command shape.
func (e *Engine) buildPayload(req Request) (wire.CommandPayload, error) {
	z := req.Zone
	data := map[string]any{}

	switch req.Type {
	case model.CommandMode:
		data[resolveKey(e.ref, fieldModeUsed)] = modeUsedValue(req.Mode, z.Preset)
	case model.CommandPreset:
		data[resolveKey(e.ref, fieldModeUsed)] = modeUsedValue(z.Mode, req.Preset)
	case model.CommandTemperature:
		field := setpointField(z.InstallationMode, req.Preset)
		data[resolveKey(e.ref, field)] = wire.EncodeTemperature(req.TempC)
	case model.CommandRingLight:
		value := 0
		if req.On {
			value = 1
		}
		data[resolveKey(e.ref, fieldRingFunction)] = value
	case model.CommandLock:
		data[resolveKey(e.ref, fieldLockActivation)] = req.On
	default:
		return wire.CommandPayload{}, fmt.Errorf("command: unknown command type %q", req.Type)
	}

	return wire.CommandPayload{
		Request:          wire.RequestTH,
		Data:             data,
		ControllerNumber: z.ControllerNumber,
		ChannelZone:      z.ChannelZone,
	}, nil
}
