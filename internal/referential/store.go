// Package referential requests and decodes the vendor's
// symbolic<->numeric key dictionary, used by CommandEngine to resolve
// wire keys.
package referential

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rehau-bridge/nea-bridge/internal/model"
	"github.com/rehau-bridge/nea-bridge/internal/wire"
)

// publisher is the slice of BrokerLink ReferentialStore needs.
type publisher interface {
	PublishVendor(topic string, payload []byte) error
}

// tokenSource supplies the email and access token the request payload
// carries.
type tokenSource interface {
	Email() string
	AccessToken() string
}

// Store owns the Referential bijection and the request/response cycle
// that keeps it current.
type Store struct {
	link  publisher
	auth  tokenSource
	log   *slog.Logger
	ref   *model.Referential

	mu      sync.Mutex
	waiters []chan struct{} // one-shot de-registration handles for pending requests

	onBlob func(compressed string)
}

// OnBlobAccepted registers a callback fired with the raw compressed
// payload after every successfully decoded referential response, so the
// caller can persist it for the next restart.
func (s *Store) OnBlobAccepted(fn func(compressed string)) { s.onBlob = fn }

func New(link publisher, auth tokenSource, log *slog.Logger) *Store {
	return &Store{link: link, auth: auth, log: log, ref: model.NewReferential()}
}

// Referential exposes the underlying bijection to CommandEngine.
func (s *Store) Referential() *model.Referential { return s.ref }

// Load publishes a referential request and installs a one-shot handler
// that de-registers after 10s, so unanswered requests never leak
// handlers.
func (s *Store) Load() error {
	req := wire.NewReferentialRequest(s.auth.Email(), s.auth.AccessToken())
	payload, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("referential: build request: %w", err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.waiters = append(s.waiters, done)
	s.mu.Unlock()

	go func() {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			s.log.Debug("referential: request handler expired without a response")
		}
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == done {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()

	topic := "server/" + s.auth.Email() + "/v1/install/user/referential"
	if err := s.link.PublishVendor(topic, payload); err != nil {
		return fmt.Errorf("referential: publish request: %w", err)
	}
	return nil
}

// referentialEntry is one {index, value} pair in the decompressed
// JSON array the vendor replies with.
type referentialEntry struct {
	Index string `json:"index"`
	Value string `json:"value"`
}

// HandleBlob decompresses and parses a referential response, replacing
// the current bijection, and closes any still-pending Load waiters.
func (s *Store) HandleBlob(blob *wire.ReferentialBlob) error {
	decompressed, ok := decompressFromUTF16(blob.Compressed)
	if !ok {
		return fmt.Errorf("referential: failed to decompress blob")
	}

	var entries []referentialEntry
	if err := json.Unmarshal([]byte(decompressed), &entries); err != nil {
		return fmt.Errorf("referential: parse decompressed json: %w", err)
	}

	pairs := make(map[string]string, len(entries))
	for _, e := range entries {
		pairs[e.Value] = e.Index
	}
	s.ref.Replace(pairs)

	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}

	if s.onBlob != nil {
		s.onBlob(blob.Compressed)
	}
	return nil
}

// RunReloadTicker reloads the referential daily (REFERENTIALS_RELOAD_INTERVAL).
func (s *Store) RunReloadTicker(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.Load(); err != nil {
				s.log.Warn("referential: reload failed", "error", err)
			}
		}
	}
}
