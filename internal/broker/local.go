package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/rehau-bridge/nea-bridge/internal/config"
)

// localSession is the MQTT session to the home-automation broker:
// plain TCP, optional credentials, library-level auto-reconnect (paho
// itself retries at a bounded interval) backed by a manual reconnect
// path the health check can drive when paho's own retry stalls. No
// auth step is needed on this side; back-off is bounded at 20s.
type localSession struct {
	cfg config.Config
	log *slog.Logger

	subs *subscriptionSet

	mu        sync.Mutex
	client    paho.Client
	onMessage func(Message)
	onConnect func()

	reconnecting atomic.Bool
}

func newLocalSession(cfg config.Config, onMessage func(Message), log *slog.Logger) *localSession {
	return &localSession{cfg: cfg, log: log, subs: newSubscriptionSet(), onMessage: onMessage}
}

func (l *localSession) options() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", l.cfg.MQTTHost, l.cfg.MQTTPort))
	if l.cfg.MQTTUser != "" {
		opts.SetUsername(l.cfg.MQTTUser)
		opts.SetPassword(l.cfg.MQTTPassword)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(5 * time.Second)
	opts.SetCleanSession(true)
	opts.SetDefaultPublishHandler(func(_ paho.Client, m paho.Message) {
		l.onMessage(Message{Topic: m.Topic(), Payload: append([]byte(nil), m.Payload()...)})
	})
	opts.SetOnConnectHandler(func(c paho.Client) {
		l.mu.Lock()
		l.client = c
		l.mu.Unlock()
		if err := l.resubscribeAll(); err != nil {
			l.log.Warn("broker: local resubscribe after connect failed", "error", err)
		}
		if l.onConnect != nil {
			l.onConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		l.log.Warn("broker: local connection lost", "error", err)
	})
	return opts
}

// SetOnConnect registers a callback fired after every successful
// (re)connect, once subscriptions have been replayed. DiscoveryPublisher
// uses this to re-emit discovery configs on local reconnect.
func (l *localSession) SetOnConnect(fn func()) { l.onConnect = fn }

func (l *localSession) connect(ctx context.Context) error {
	client := paho.NewClient(l.options())
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("broker: local connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: local connect: %w", err)
	}
	l.mu.Lock()
	l.client = client
	l.mu.Unlock()
	return nil
}

func (l *localSession) resubscribeAll() error {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()
	if client == nil {
		return fmt.Errorf("broker: local client not connected")
	}
	for _, topic := range l.subs.snapshot() {
		token := client.Subscribe(topic, 1, nil)
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("broker: local subscribe %s timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("broker: local subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (l *localSession) subscribe(topic string) error {
	isNew := l.subs.add(topic)
	if !isNew {
		return nil
	}
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()
	if client == nil || !client.IsConnectionOpen() {
		return nil
	}
	token := client.Subscribe(topic, 1, nil)
	token.Wait()
	return token.Error()
}

func (l *localSession) publish(topic string, payload []byte, retained bool) error {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()
	if client == nil || !client.IsConnectionOpen() {
		l.triggerReconnect(context.Background())
		return fmt.Errorf("broker: local session not connected")
	}
	token := client.Publish(topic, 1, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		l.triggerReconnect(context.Background())
		return err
	}
	return nil
}

func (l *localSession) connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client != nil && l.client.IsConnectionOpen()
}

// forceDisconnect tears down the current client without touching the
// subscription set, so the next reconnect (the health check's manual
// fallback; paho does not auto-reconnect after an explicit Disconnect)
// replays every subscription as usual. Used only by the
// SIMULATE_DISCONNECT_AFTER_SECONDS testing hook.
func (l *localSession) forceDisconnect() {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()
	if client != nil {
		client.Disconnect(0)
	}
}

// triggerReconnect is the manual fallback path: paho's own
// auto-reconnect normally recovers the local session, but the health
// check calls this when a session has gone stale anyway. Back-off is
// bounded at 20s, with no authentication step.
func (l *localSession) triggerReconnect(ctx context.Context) {
	if l.subs.empty() {
		return
	}
	if !l.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer l.reconnecting.Store(false)
		backoff := time.Second
		for {
			l.mu.Lock()
			client := l.client
			l.mu.Unlock()
			if client != nil && client.IsConnectionOpen() {
				return
			}
			if err := l.connect(ctx); err != nil {
				l.log.Warn("broker: local reconnect failed", "error", err, "retry_in", backoff)
				time.Sleep(backoff)
				if backoff < 20*time.Second {
					backoff *= 2
					if backoff > 20*time.Second {
						backoff = 20 * time.Second
					}
				}
				continue
			}
			return
		}
	}()
}
