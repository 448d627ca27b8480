// Package poller implements the bridge's two periodic polls: ZonePoller
// (HTTPS refresh of installation-level fields) and LiveDataPoller (the
// EMU-then-DIDO two-shot LIVE request).
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/rehau-bridge/nea-bridge/internal/model"
	"github.com/rehau-bridge/nea-bridge/internal/vendorapi"
	"github.com/rehau-bridge/nea-bridge/internal/wire"
)

// tokenSource supplies the credentials HTTPS polling needs.
type tokenSource interface {
	EnsureValidToken(ctx context.Context) error
	Email() string
	AccessToken() string
}

// linkPublisher is the slice of BrokerLink LiveDataPoller needs.
type linkPublisher interface {
	PublishVendor(topic string, payload []byte) error
}

// ZonePoller periodically re-fetches every installation's full
// snapshot over HTTPS and refreshes the installation-level fields
// (name, cooling support, outside temperature) in the store. Zone
// readings in the snapshot are not applied to the stored zones.
type ZonePoller struct {
	api   *vendorapi.Client
	auth  tokenSource
	store *model.Store
	log   *slog.Logger

	// onReload fires after a successful reload, for DiscoveryPublisher
	// to re-emit configs against the refreshed zone set.
	onReload func([]*model.Installation)
}

func NewZonePoller(api *vendorapi.Client, auth tokenSource, store *model.Store, onReload func([]*model.Installation), log *slog.Logger) *ZonePoller {
	return &ZonePoller{api: api, auth: auth, store: store, onReload: onReload, log: log}
}

// Run ticks every interval (ZONE_RELOAD_INTERVAL, default 300s).
func (p *ZonePoller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Reload(ctx); err != nil {
				p.log.Warn("poller: zone reload failed", "error", err)
			}
		}
	}
}

// Reload fetches every known installation's snapshot and applies it.
func (p *ZonePoller) Reload(ctx context.Context) error {
	if err := p.auth.EnsureValidToken(ctx); err != nil {
		return err
	}

	installs := p.store.Installations()
	ids := make([]string, len(installs))
	for i, inst := range installs {
		ids[i] = string(inst.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	snapshots, err := p.api.GetDataOfInstall(ctx, p.auth.Email(), p.auth.AccessToken(), ids[0], ids)
	if err != nil {
		return err
	}

	for _, snap := range snapshots {
		p.applySnapshot(snap)
	}
	if p.onReload != nil {
		p.onReload(p.store.Installations())
	}
	return nil
}

func (p *ZonePoller) applySnapshot(snap vendorapi.InstallSnapshot) {
	inst := p.store.Installation(model.InstallationID(snap.ID))
	if inst == nil {
		p.log.Warn("poller: snapshot for unknown installation", "installation", snap.ID)
		return
	}
	inst.Name = snap.Name
	inst.CoolingSupported = snap.CoolingSupported
	if snap.OutsideTempRaw != nil {
		v := wire.DecodeTemperature(*snap.OutsideTempRaw)
		inst.OutsideTempC = &v
	}
	if err := p.store.SetInstallation(inst); err != nil {
		p.log.Error("poller: reapplying snapshot violated a routing invariant", "installation", snap.ID, "error", err)
	}
}

// LiveDataPoller fires the two-shot EMU/DIDO LIVE request per
// installation every interval (LIVE_DATA_INTERVAL, default 300s).
type LiveDataPoller struct {
	link  linkPublisher
	store *model.Store
	log   *slog.Logger
}

func NewLiveDataPoller(link linkPublisher, store *model.Store, log *slog.Logger) *LiveDataPoller {
	return &LiveDataPoller{link: link, store: store, log: log}
}

func (p *LiveDataPoller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

func (p *LiveDataPoller) pollAll() {
	for _, inst := range p.store.Installations() {
		p.poll(inst.ID)
	}
}

func (p *LiveDataPoller) poll(installID model.InstallationID) {
	emu := wire.LiveDataRequest(1)
	if err := p.publish(installID, emu); err != nil {
		p.log.Warn("poller: EMU live-data publish failed", "installation", installID, "error", err)
	}

	time.Sleep(time.Second)

	dido := wire.LiveDataRequest(0)
	if err := p.publish(installID, dido); err != nil {
		p.log.Warn("poller: DIDO live-data publish failed", "installation", installID, "error", err)
	}
}

func (p *LiveDataPoller) publish(installID model.InstallationID, payload wire.CommandPayload) error {
	data, err := payload.Marshal()
	if err != nil {
		return err
	}
	return p.link.PublishVendor("client/"+string(installID), data)
}
