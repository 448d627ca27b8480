// Command bridge is the process entrypoint: it wires AuthEngine,
// ReferentialStore, BrokerLink, CommandEngine, StateEngine,
// DiscoveryPublisher and both pollers together and runs them under
// Supervisor until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/rehau-bridge/nea-bridge/internal/adminhttp"
	"github.com/rehau-bridge/nea-bridge/internal/auth"
	"github.com/rehau-bridge/nea-bridge/internal/auth/browser"
	"github.com/rehau-bridge/nea-bridge/internal/broker"
	"github.com/rehau-bridge/nea-bridge/internal/command"
	"github.com/rehau-bridge/nea-bridge/internal/config"
	"github.com/rehau-bridge/nea-bridge/internal/discovery"
	"github.com/rehau-bridge/nea-bridge/internal/mailbox"
	"github.com/rehau-bridge/nea-bridge/internal/model"
	"github.com/rehau-bridge/nea-bridge/internal/poller"
	"github.com/rehau-bridge/nea-bridge/internal/referential"
	"github.com/rehau-bridge/nea-bridge/internal/state"
	"github.com/rehau-bridge/nea-bridge/internal/supervisor"
	"github.com/rehau-bridge/nea-bridge/internal/tokenstore"
	"github.com/rehau-bridge/nea-bridge/internal/vendorapi"
	"github.com/rehau-bridge/nea-bridge/internal/wire"
	"github.com/rehau-bridge/nea-bridge/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.Setup(cfg.Env)

	if err := cfg.Validate(); err != nil {
		log.Error("bridge: invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Env}); err != nil {
			log.Error("bridge: sentry init failed", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := run(cfg, log); err != nil {
		log.Error("bridge: fatal", "error", err)
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

// statusAdapter satisfies adminhttp.StatusProvider without that package
// needing to know about vendorapi or model.
type statusAdapter struct {
	authEngine *auth.Engine
	store      *model.Store
}

func (s statusAdapter) Email() string          { return s.authEngine.Email() }
func (s statusAdapter) InstallationCount() int { return len(s.store.Installations()) }

// realtimeTopic extracts the installation id out of the vendor's
// "client/<installationId>/realtime" topic, since the realtime payload
// itself carries no installation identifier.
var realtimeTopic = regexp.MustCompile(`^client/([^/]+)/realtime$`)

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()

	tokens, err := tokenstore.New(ctx, cfg.DatabaseURL, cfg.TokenStoreSecret)
	if err != nil {
		return fmt.Errorf("bridge: tokenstore: %w", err)
	}
	defer tokens.Close()

	api := vendorapi.New(cfg.VendorAPIBaseURL, cfg.VendorTokenURL)

	mbox, err := buildMailbox(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bridge: mailbox: %w", err)
	}

	browsers, err := browser.NewScriptedLoginProvider()
	if err != nil {
		return fmt.Errorf("bridge: browser provider: %w", err)
	}

	authEngine := auth.New(cfg, api, browsers, mbox, log)
	authEngine.OnTokensChanged(func(set auth.TokenSet) {
		if err := tokens.Save(ctx, set); err != nil {
			log.Warn("bridge: failed to persist refreshed tokens", "error", err)
		}
	})
	if cached, err := tokens.Load(ctx); err == nil {
		authEngine.SeedTokens(cached)
	}

	store := model.NewStore()
	link := broker.New(cfg, authEngine, log)
	refStore := referential.New(link, authEngine, log)
	refStore.OnBlobAccepted(func(compressed string) {
		if err := tokens.SaveReferentialBlob(ctx, compressed); err != nil {
			log.Warn("bridge: failed to persist referential blob", "error", err)
		}
	})
	commandEngine := command.New(link, refStore.Referential(), cfg.CommandRetryTimeout, cfg.CommandMaxRetries, log)
	stateEngine := state.New(store, commandEngine, link, log)
	discoveryPublisher := discovery.New(link, cfg.UseGroupInNames, log)
	dispatcher := command.NewDispatcher(store, commandEngine, log)

	subscribeZoneCommands := func(installations []*model.Installation) {
		for _, inst := range installations {
			for _, z := range inst.Zones() {
				for _, topic := range command.CommandTopics(z.ZoneID) {
					if err := link.SubscribeLocal(topic); err != nil {
						log.Warn("bridge: subscribe local command topic failed", "topic", topic, "error", err)
					}
				}
			}
		}
	}

	onZoneReload := func(installations []*model.Installation) {
		subscribeZoneCommands(installations)
		discoveryPublisher.EmitAll(installations)
	}

	link.OnMessage(func(m broker.Message) {
		if m.Vendor {
			dispatchVendor(stateEngine, refStore, m.Topic, m.Payload, log)
			return
		}
		dispatcher.HandleLocal(ctx, m.Topic, m.Payload)
	})
	link.OnLocalConnect(func() {
		discoveryPublisher.EmitAll(store.Installations())
	})

	zonePoller := poller.NewZonePoller(api, authEngine, store, onZoneReload, log)
	liveDataPoller := poller.NewLiveDataPoller(link, store, log)

	adminServer := adminhttp.New(cfg.AdminListenAddr, link, statusAdapter{authEngine: authEngine, store: store}, authEngine, log)

	sup := supervisor.New(log, 30*time.Second)

	var (
		brokerCancel      context.CancelFunc
		referentialCancel context.CancelFunc
		liveDataCancel    context.CancelFunc
		zonePollCancel    context.CancelFunc
	)

	sup.Add(supervisor.Stage{
		Name: "auth",
		Start: func(ctx context.Context) error {
			if err := authEngine.EnsureValidToken(ctx); err != nil {
				return err
			}
			return bootstrapInstallations(ctx, api, authEngine, store)
		},
	})

	sup.Add(supervisor.Stage{
		Name: "broker",
		Start: func(ctx context.Context) error {
			if err := link.ConnectBoth(ctx); err != nil {
				return err
			}
			for _, inst := range store.Installations() {
				if err := link.SubscribeVendorRealtime(string(inst.ID)); err != nil {
					log.Warn("bridge: subscribe vendor realtime failed", "installation", inst.ID, "error", err)
				}
			}
			subscribeZoneCommands(store.Installations())
			healthCtx, cancel := context.WithCancel(context.Background())
			go link.RunHealthCheck(healthCtx)
			brokerCancel = cancel
			return nil
		},
		Stop: func(ctx context.Context) error {
			if brokerCancel != nil {
				brokerCancel()
			}
			return nil
		},
	})

	sup.Add(supervisor.Stage{
		Name: "referential",
		Start: func(ctx context.Context) error {
			if cached, err := tokens.LoadReferentialBlob(ctx); err == nil {
				if err := refStore.HandleBlob(&wire.ReferentialBlob{Compressed: cached}); err != nil {
					log.Warn("bridge: cached referential blob failed to decode, waiting for a fresh one", "error", err)
				}
			}
			if err := refStore.Load(); err != nil {
				log.Warn("bridge: initial referential load failed, running on fallback keys", "error", err)
			}
			reloadCtx, cancel := context.WithCancel(context.Background())
			go refStore.RunReloadTicker(cfg.ReferentialsReloadInterval, reloadCtx.Done())
			referentialCancel = cancel
			return nil
		},
		Stop: func(ctx context.Context) error {
			if referentialCancel != nil {
				referentialCancel()
			}
			return nil
		},
	})

	sup.Add(supervisor.Stage{
		Name: "discovery",
		Start: func(ctx context.Context) error {
			discoveryPublisher.EmitAll(store.Installations())
			return nil
		},
	})

	sup.Add(supervisor.Stage{
		Name: "live-data-poller",
		Start: func(ctx context.Context) error {
			pollCtx, cancel := context.WithCancel(context.Background())
			go liveDataPoller.Run(pollCtx, cfg.LiveDataInterval)
			liveDataCancel = cancel
			return nil
		},
		Stop: func(ctx context.Context) error {
			if liveDataCancel != nil {
				liveDataCancel()
			}
			return nil
		},
	})

	sup.Add(supervisor.Stage{
		Name: "zone-poller",
		Start: func(ctx context.Context) error {
			pollCtx, cancel := context.WithCancel(context.Background())
			go zonePoller.Run(pollCtx, cfg.ZoneReloadInterval)
			zonePollCancel = cancel
			if cfg.SimulateDisconnectAfterSeconds > 0 {
				go simulateDisconnect(pollCtx, link, time.Duration(cfg.SimulateDisconnectAfterSeconds)*time.Second, log)
			}
			return nil
		},
		Stop: func(ctx context.Context) error {
			if zonePollCancel != nil {
				zonePollCancel()
			}
			return nil
		},
	})

	sup.Add(supervisor.Stage{
		Name: "admin-http",
		Start: func(ctx context.Context) error {
			go func() {
				if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("bridge: admin http server failed", "error", err)
				}
			}()
			return nil
		},
		Stop: func(ctx context.Context) error {
			return adminServer.Shutdown(ctx)
		},
	})

	return sup.Run(ctx)
}

// bootstrapInstallations performs the one-time initial zone population
// ZonePoller.Reload does not do: it fetches every installation's full
// snapshot, builds its Group/Zone graph, infers the installation's
// heat/cool mode, and seeds each zone's mode/preset/target from its
// first snapshot.
func bootstrapInstallations(ctx context.Context, api *vendorapi.Client, authEngine *auth.Engine, store *model.Store) error {
	refs := authEngine.Installations()
	if len(refs) == 0 {
		return nil
	}
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}

	snapshots, err := api.GetDataOfInstall(ctx, authEngine.Email(), authEngine.AccessToken(), ids[0], ids)
	if err != nil {
		return fmt.Errorf("bridge: initial installation snapshot: %w", err)
	}

	for _, snap := range snapshots {
		inst, fields, err := vendorapi.BuildInstallation(snap)
		if err != nil {
			return fmt.Errorf("bridge: build installation %s: %w", snap.ID, err)
		}
		inst.Mode = state.InferInstallationMode(inst, fields)
		for _, z := range inst.Zones() {
			z.InstallationMode = inst.Mode
			if f, ok := fields[z.ZoneID]; ok {
				state.ApplyModeUsed(z, f)
			}
		}
		if err := store.SetInstallation(inst); err != nil {
			return fmt.Errorf("bridge: seed installation %s: %w", snap.ID, err)
		}
	}
	return nil
}

// dispatchVendor decodes a vendor-session message and routes it to the
// engine that owns its kind.
func dispatchVendor(stateEngine *state.Engine, refStore *referential.Store, topic string, payload []byte, log *slog.Logger) {
	env, err := wire.DecodeEnvelope(payload)
	if err != nil {
		log.Warn("bridge: malformed vendor payload, dropping", "topic", topic, "error", err)
		return
	}

	switch env.Kind {
	case wire.KindChannelUpdate:
		stateEngine.Apply(env.ChannelUpdate)
	case wire.KindRealtime:
		m := realtimeTopic.FindStringSubmatch(topic)
		if m == nil {
			log.Warn("bridge: realtime message on unexpected topic", "topic", topic)
			return
		}
		stateEngine.ApplyRealtime(model.InstallationID(m[1]), env.Realtime)
	case wire.KindReferential:
		if err := refStore.HandleBlob(env.Referential); err != nil {
			log.Warn("bridge: referential decode failed", "error", err)
		}
	case wire.KindLiveEmu:
		stateEngine.ApplyLiveEmu(env.LiveEmu)
	case wire.KindLiveDido:
		stateEngine.ApplyLiveDido(env.LiveDido)
	default:
		log.Debug("bridge: unrecognised vendor payload type, dropping", "topic", topic)
	}
}

// simulateDisconnect is the SIMULATE_DISCONNECT_AFTER_SECONDS testing
// hook: it forces the local session closed once, so an operator can
// exercise the reconnect path without physically restarting the broker.
func simulateDisconnect(ctx context.Context, link *broker.Link, after time.Duration, log *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(after):
	}
	log.Warn("bridge: simulating local broker disconnect (SIMULATE_DISCONNECT_AFTER_SECONDS)")
	link.SimulateLocalDisconnect()
}

func buildMailbox(ctx context.Context, cfg config.Config) (mailbox.Client, error) {
	switch cfg.POP3Provider {
	case "gmail":
		return mailbox.NewGmailProvider(ctx, cfg.POP3User, cfg.MailOAuthClientID, cfg.MailOAuthClientSecret, cfg.MailOAuthRefreshToken), nil
	case "outlook":
		return mailbox.NewOutlookProvider(ctx, cfg.POP3User, cfg.MailOAuthClientID, cfg.MailOAuthClientSecret, cfg.MailOAuthRefreshToken), nil
	default:
		return mailbox.NewBasicProvider(cfg.POP3Host, cfg.POP3Port, cfg.POP3User, cfg.POP3Password), nil
	}
}
