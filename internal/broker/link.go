// Package broker maintains the bridge's two independent MQTT sessions,
// vendor (WSS, token-as-password, manual reconnect) and local (TCP,
// library auto-reconnect), behind one publish/subscribe/onMessage
// surface.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rehau-bridge/nea-bridge/internal/config"
)

// Message is a parsed delivery from either session, handed to every
// registered handler synchronously.
type Message struct {
	Topic   string
	Payload []byte
	Vendor  bool // true if it arrived on the vendor session, false for local
}

// Handler receives every message fanned out by Link. Messages are
// delivered synchronously, so handlers must not block.
type Handler func(Message)

// Link owns both MQTT sessions and the shared handler list.
type Link struct {
	vendor *vendorSession
	local  *localSession

	handlersMu sync.Mutex
	handlers   []Handler

	log *slog.Logger
}

// New builds a Link. auth is consulted by the vendor session for
// EnsureValidToken/AccessToken/Email during connect and reconnect.
func New(cfg config.Config, auth tokenSource, log *slog.Logger) *Link {
	l := &Link{log: log}
	l.vendor = newVendorSession(cfg, auth, func(m Message) { m.Vendor = true; l.dispatch(m) }, log)
	l.local = newLocalSession(cfg, func(m Message) { m.Vendor = false; l.dispatch(m) }, log)
	return l
}

// OnMessage registers a fan-out handler.
func (l *Link) OnMessage(h Handler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers = append(l.handlers, h)
}

// OnLocalConnect registers a callback fired after every successful
// local (re)connect, once subscriptions have replayed.
func (l *Link) OnLocalConnect(fn func()) { l.local.SetOnConnect(fn) }

func (l *Link) dispatch(m Message) {
	l.handlersMu.Lock()
	handlers := make([]Handler, len(l.handlers))
	copy(handlers, l.handlers)
	l.handlersMu.Unlock()
	for _, h := range handlers {
		h(m)
	}
}

// ConnectBoth brings up both sessions. It runs after the auth stage
// has a valid token and before the referential request goes out, since
// that request travels over the vendor session.
func (l *Link) ConnectBoth(ctx context.Context) error {
	if err := l.vendor.connect(ctx); err != nil {
		return err
	}
	return l.local.connect(ctx)
}

// SubscribeVendorRealtime subscribes to an installation's realtime
// channel, the per-installation topic beyond the fixed user topic the
// vendor session adds automatically on connect.
func (l *Link) SubscribeVendorRealtime(installationID string) error {
	return l.vendor.subscribe("client/" + installationID + "/realtime")
}

// PublishVendor publishes to the vendor session (commands, LIVE
// requests, referential requests).
func (l *Link) PublishVendor(topic string, payload []byte) error {
	return l.vendor.publish(topic, payload)
}

// SubscribeLocal subscribes on the local broker (command topics).
func (l *Link) SubscribeLocal(topic string) error {
	return l.local.subscribe(topic)
}

// PublishLocal publishes to the local broker (state, discovery configs).
func (l *Link) PublishLocal(topic string, payload []byte, retained bool) error {
	return l.local.publish(topic, payload, retained)
}

// VendorConnected reports the vendor session's current connection
// state, for the admin status endpoint.
func (l *Link) VendorConnected() bool { return l.vendor.connected() }

// LocalConnected reports the local session's current connection state,
// for the admin status endpoint.
func (l *Link) LocalConnected() bool { return l.local.connected() }

// SimulateLocalDisconnect forces the local session's client closed
// without clearing its subscription set, so the health check's manual
// reconnect drives the normal recovery path. This
// backs the SIMULATE_DISCONNECT_AFTER_SECONDS testing hook.
func (l *Link) SimulateLocalDisconnect() { l.local.forceDisconnect() }

// RunHealthCheck starts the 30s health-check ticker: any session that
// is disconnected while its subscription set is non-empty gets a
// reconnect scheduled, honouring that session's cooldown.
func (l *Link) RunHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.vendor.connected() {
				l.vendor.triggerReconnect(ctx)
			}
			if !l.local.connected() {
				l.local.triggerReconnect(ctx)
			}
		}
	}
}
