package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rehau-bridge/nea-bridge/internal/config"
)

// tokenSource is the slice of AuthEngine the broker needs: a valid
// bearer token and the account email the vendor authorizer expects in
// the MQTT username.
type tokenSource interface {
	EnsureValidToken(ctx context.Context) error
	AccessToken() string
	Email() string
}

// vendorSession is the MQTT session to the vendor cloud: WSS
// transport, token-as-password, manual reconnect. Automatic
// library-level reconnect is disabled; the session reconnects by hand
// after re-authenticating, since a stale token makes paho's own retry
// loop useless.
type vendorSession struct {
	cfg  config.Config
	auth tokenSource
	log  *slog.Logger

	subs *subscriptionSet

	mu         sync.Mutex
	client     paho.Client
	clientID   string
	onMessage  func(Message)

	reconnecting atomic.Bool
	cooldown     *rate.Limiter // one attempt per 15s
}

func newVendorSession(cfg config.Config, auth tokenSource, onMessage func(Message), log *slog.Logger) *vendorSession {
	return &vendorSession{
		cfg:       cfg,
		auth:      auth,
		log:       log,
		subs:      newSubscriptionSet(),
		clientID:  "app-" + uuid.NewString(),
		onMessage: onMessage,
		cooldown:  rate.NewLimiter(rate.Every(15*time.Second), 1),
	}
}

func (v *vendorSession) vendorURL() string {
	return v.cfg.VendorMQTTURL
}

func (v *vendorSession) options() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(v.vendorURL())
	opts.SetClientID(v.clientID)
	opts.SetUsername(v.auth.Email() + "?x-amz-customauthorizer-name=app-front")
	opts.SetPassword(v.auth.AccessToken())
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(false) // reconnect manually, after re-authenticating
	opts.SetCleanSession(true)
	opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	opts.SetDefaultPublishHandler(func(_ paho.Client, m paho.Message) {
		v.onMessage(Message{Topic: m.Topic(), Payload: append([]byte(nil), m.Payload()...)})
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		v.log.Warn("broker: vendor connection lost", "error", err)
		v.triggerReconnect(context.Background())
	})
	return opts
}

// connect performs the initial connect and adds the fixed user-topic
// subscription every session carries. Callers add further
// subscriptions via subscribe.
func (v *vendorSession) connect(ctx context.Context) error {
	if err := v.auth.EnsureValidToken(ctx); err != nil {
		return fmt.Errorf("broker: vendor auth: %w", err)
	}

	v.mu.Lock()
	client := paho.NewClient(v.options())
	token := client.Connect()
	ok := token.WaitTimeout(30 * time.Second)
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("broker: vendor connect timeout")
	}
	if err := token.Error(); err != nil {
		v.mu.Unlock()
		return fmt.Errorf("broker: vendor connect: %w", err)
	}
	v.client = client
	v.mu.Unlock()

	v.subs.add("client/" + v.auth.Email())
	return v.resubscribeAll()
}

func (v *vendorSession) resubscribeAll() error {
	v.mu.Lock()
	client := v.client
	v.mu.Unlock()
	if client == nil {
		return fmt.Errorf("broker: vendor client not connected")
	}
	for _, topic := range v.subs.snapshot() {
		token := client.Subscribe(topic, 1, nil)
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("broker: vendor subscribe %s timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("broker: vendor subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (v *vendorSession) subscribe(topic string) error {
	isNew := v.subs.add(topic)
	if !isNew {
		return nil
	}
	v.mu.Lock()
	client := v.client
	v.mu.Unlock()
	if client == nil || !client.IsConnectionOpen() {
		return nil // replayed on next connect
	}
	token := client.Subscribe(topic, 1, nil)
	token.Wait()
	return token.Error()
}

func (v *vendorSession) publish(topic string, payload []byte) error {
	v.mu.Lock()
	client := v.client
	v.mu.Unlock()
	if client == nil || !client.IsConnectionOpen() {
		v.triggerReconnect(context.Background())
		return fmt.Errorf("broker: vendor session not connected")
	}
	token := client.Publish(topic, 1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		v.triggerReconnect(context.Background())
		return err
	}
	return nil
}

func (v *vendorSession) connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.client != nil && v.client.IsConnectionOpen()
}

// triggerReconnect runs the vendor reconnect state machine:
// cooldown-gated, guarded against overlap, wait 5s, re-auth, tear
// down, reconnect, resubscribe, retry every 30s on failure.
func (v *vendorSession) triggerReconnect(ctx context.Context) {
	if v.subs.empty() {
		return
	}
	if !v.reconnecting.CompareAndSwap(false, true) {
		return // already in progress
	}
	go func() {
		defer v.reconnecting.Store(false)
		for {
			if !v.cooldown.Allow() {
				time.Sleep(time.Second)
				continue
			}
			time.Sleep(5 * time.Second)

			v.teardown()

			if err := v.connect(ctx); err != nil {
				v.log.Warn("broker: vendor reconnect failed, retrying in 30s", "error", err)
				time.Sleep(30 * time.Second)
				continue
			}
			v.log.Info("broker: vendor session reconnected")
			return
		}
	}()
}

func (v *vendorSession) teardown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.client != nil {
		v.client.Disconnect(250)
		v.client = nil
	}
}
