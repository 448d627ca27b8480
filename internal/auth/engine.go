// Package auth implements the AuthEngine: the OAuth2+PKCE login against
// the vendor's cloud, the interactive 2FA sub-flow (delegated to
// internal/auth/twofa), and the periodic token refresh that keeps both
// the HTTPS API calls and the vendor MQTT session authenticated. It
// never verifies or mints tokens itself; it is a client of the vendor's
// OAuth2 server, not an issuer.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/rehau-bridge/nea-bridge/internal/auth/browser"
	"github.com/rehau-bridge/nea-bridge/internal/auth/twofa"
	"github.com/rehau-bridge/nea-bridge/internal/config"
	"github.com/rehau-bridge/nea-bridge/internal/mailbox"
	"github.com/rehau-bridge/nea-bridge/internal/vendorapi"
)

// Engine is the AuthEngine. It owns the current TokenSet and the list
// of installations discovered at login, and exposes read accessors
// the rest of the bridge polls without knowing how the token was
// obtained.
type Engine struct {
	cfg      config.Config
	api      *vendorapi.Client
	browsers browser.Provider
	mailbox  mailbox.Client
	log      *slog.Logger

	tokens tokenBox

	mu              sync.Mutex // serializes login()/refresh() attempts
	installationsMu sync.RWMutex
	installations   []vendorapi.InstallationRef

	refreshCancel context.CancelFunc

	onTokens func(TokenSet)
}

// SeedTokens installs a token set loaded from the durable cache before
// the first EnsureValidToken call, so a restart can resume on a
// refresh rather than forcing a fresh interactive login.
func (e *Engine) SeedTokens(set TokenSet) { e.tokens.replace(set) }

// OnTokensChanged registers a callback fired every time the engine
// stores a freshly issued or refreshed token set, so main can persist
// it to the durable cache.
func (e *Engine) OnTokensChanged(fn func(TokenSet)) { e.onTokens = fn }

// New builds an AuthEngine. mbox may be nil only if the vendor's login
// page is never expected to prompt for 2FA; in practice every real
// deployment configures POP3_PROVIDER.
func New(cfg config.Config, api *vendorapi.Client, browsers browser.Provider, mbox mailbox.Client, log *slog.Logger) *Engine {
	return &Engine{cfg: cfg, api: api, browsers: browsers, mailbox: mbox, log: log}
}

// AccessToken returns the current access token.
func (e *Engine) AccessToken() string { return e.tokens.get().AccessToken }

// Email returns the configured vendor account email.
func (e *Engine) Email() string { return e.cfg.RehauEmail }

// ClientID returns the vendor OAuth2 application's client_id.
func (e *Engine) ClientID() string { return e.cfg.VendorClientID }

// Installations returns the installations discovered at login.
func (e *Engine) Installations() []vendorapi.InstallationRef {
	e.installationsMu.RLock()
	defer e.installationsMu.RUnlock()
	out := make([]vendorapi.InstallationRef, len(e.installations))
	copy(out, e.installations)
	return out
}

// EnsureValidToken guarantees a usable access token is in place before
// returning: attempt a refresh first when a refresh token exists and
// FORCE_FRESH_LOGIN is not set; fall back to a full login on refresh
// failure or when no refresh token exists yet. On first success it
// starts the periodic refresh task.
func (e *Engine) EnsureValidToken(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.tokens.get()
	needsWork := current.AccessToken == "" || e.cfg.ForceTokenExpired || current.Expired(time.Now())

	if needsWork {
		if current.RefreshToken != "" && !e.cfg.ForceFreshLogin {
			if err := e.refreshLocked(ctx); err == nil {
				e.startRefreshTaskOnce(ctx)
				return nil
			}
			e.log.Warn("auth: refresh failed, falling back to full login")
		}
		if err := e.loginLocked(ctx); err != nil {
			return fmt.Errorf("auth: login failed: %w", err)
		}
	}

	e.startRefreshTaskOnce(ctx)
	return nil
}

func (e *Engine) startRefreshTaskOnce(ctx context.Context) {
	if e.refreshCancel != nil {
		return
	}
	refreshCtx, cancel := context.WithCancel(ctx)
	e.refreshCancel = cancel
	go e.periodicRefresh(refreshCtx)
}

// periodicRefresh fires every TOKEN_REFRESH_INTERVAL; on failure it
// falls back to a full login, and if that also fails it logs and
// retries on the next tick, keeping the process running with the
// existing (possibly stale) token.
func (e *Engine) periodicRefresh(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TokenRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil {
				e.log.Warn("auth: periodic refresh failed, attempting full login", "error", err)
				if err := e.Login(ctx); err != nil {
					e.log.Error("auth: periodic refresh and login both failed; retrying next tick", "error", err)
				}
			}
		}
	}
}

// Refresh performs the refresh_token grant.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshLocked(ctx)
}

func (e *Engine) refreshLocked(ctx context.Context) error {
	current := e.tokens.get()
	if current.RefreshToken == "" {
		return errors.New("auth: no refresh token available")
	}
	resp, err := e.api.RefreshToken(ctx, e.cfg.VendorClientID, current.RefreshToken)
	if err != nil {
		return err
	}
	e.storeTokenResponse(resp)

	// A restart that resumes from a seeded refresh token never ran
	// loginLocked's loadInstallations; make sure it always runs once.
	if len(e.Installations()) == 0 {
		if err := e.loadInstallations(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Login performs the full OAuth2+PKCE login flow.
func (e *Engine) Login(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loginLocked(ctx)
}

func (e *Engine) loginLocked(ctx context.Context) error {
	pair, err := newPKCEPair()
	if err != nil {
		return fmt.Errorf("auth: pkce generation: %w", err)
	}
	nonce, err := newNonce()
	if err != nil {
		return fmt.Errorf("auth: nonce generation: %w", err)
	}

	code, err := e.driveLoginPage(ctx, pair, nonce)
	if err != nil {
		sentry.CaptureException(err)
		return err
	}

	resp, err := e.api.ExchangeCode(ctx, e.cfg.VendorClientID, e.cfg.VendorRedirectURI, code, pair.verifier)
	if err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("auth: code exchange: %w", err)
	}
	e.storeTokenResponse(resp)

	if err := e.loadInstallations(ctx); err != nil {
		sentry.CaptureException(err)
		return err
	}
	return nil
}

// driveLoginPage opens the authorization URL in a scriptable browser,
// submits credentials, and either follows the 2FA sub-flow or waits
// directly for the redirect.
func (e *Engine) driveLoginPage(ctx context.Context, pair pkcePair, nonce string) (string, error) {
	sess, err := e.browsers.NewSession(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: browser session: %w", err)
	}
	defer sess.Cleanup(ctx)

	authURL := e.authorizationURL(pair, nonce)

	navCtx, cancel := context.WithTimeout(ctx, browser.NavigationTimeout)
	defer cancel()
	if err := sess.Navigate(navCtx, authURL); err != nil {
		return "", fmt.Errorf("auth: navigate to login page: %w", err)
	}

	elemCtx, cancel := context.WithTimeout(ctx, browser.ElementTimeout)
	defer cancel()
	if err := sess.Type(elemCtx, "email", e.cfg.RehauEmail); err != nil {
		return "", fmt.Errorf("auth: enter email: %w", err)
	}
	if err := sess.Type(elemCtx, "password", e.cfg.RehauPassword); err != nil {
		return "", fmt.Errorf("auth: enter password: %w", err)
	}
	if err := sess.Click(elemCtx, "login-submit"); err != nil {
		return "", fmt.Errorf("auth: submit credentials: %w", err)
	}

	if err := sess.WaitForSelectorByID(elemCtx, "two-factor-code"); err == nil {
		landed, err := twofa.Run(ctx, sess, e.mailbox, twofa.Config{
			SenderAddress: e.cfg.TwoFASender,
			Deadline:      e.cfg.POP3Timeout,
		}, e.cfg.VendorRedirectURI)
		if err != nil {
			return "", err
		}
		return extractCode(landed)
	}

	redirectCtx, cancel := context.WithTimeout(ctx, browser.FinalRedirectTimeout)
	defer cancel()
	landed, err := sess.WaitForURLPrefix(redirectCtx, e.cfg.VendorRedirectURI)
	if err != nil {
		return "", fmt.Errorf("auth: waiting for redirect: %w", err)
	}
	return extractCode(landed)
}

func (e *Engine) authorizationURL(pair pkcePair, nonce string) string {
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {e.cfg.VendorClientID},
		"redirect_uri":          {e.cfg.VendorRedirectURI},
		"code_challenge":        {pair.challenge},
		"code_challenge_method": {"S256"},
		"nonce":                 {nonce},
		"scope":                 {"openid offline_access"},
	}
	return e.cfg.VendorAuthURL + "?" + q.Encode()
}

func extractCode(redirectURL string) (string, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("auth: parse redirect url: %w", err)
	}
	code := parsed.Query().Get("code")
	if code == "" {
		return "", errors.New("auth: redirect url carries no code parameter")
	}
	return code, nil
}

func (e *Engine) storeTokenResponse(resp *vendorapi.TokenResponse) {
	kid, exp := decodeForDiagnostics(resp.AccessToken)
	e.log.Debug("auth: token refreshed", "kid", kid, "jwt_exp", exp, "expires_in", resp.ExpiresIn)

	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = e.tokens.get().RefreshToken // some grants omit a rotated refresh token
	}
	set := TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	e.tokens.replace(set)
	if e.onTokens != nil {
		e.onTokens(set)
	}
}

func (e *Engine) loadInstallations(ctx context.Context) error {
	data, err := e.api.GetUserData(ctx, e.cfg.RehauEmail, e.AccessToken())
	if err != nil {
		return fmt.Errorf("auth: getUserData: %w", err)
	}
	e.installationsMu.Lock()
	e.installations = data.Installations
	e.installationsMu.Unlock()
	return nil
}
