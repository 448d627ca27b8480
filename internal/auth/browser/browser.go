// Package browser defines the narrow scriptable-browser collaborator
// AuthEngine drives through the vendor's login page. The login page
// serves JS/anti-bot challenges, which only a real browser-backed
// Provider can pass; this package ships no such Provider, and
// cmd/bridge uses ScriptedLoginProvider (see scripted.go). AuthEngine never embeds
// browser specifics outside this interface.
package browser

import (
	"context"
	"time"
)

// Timeouts for the individual automation steps.
const (
	NavigationTimeout    = 60 * time.Second
	ElementTimeout       = 30 * time.Second
	FinalRedirectTimeout = 60 * time.Second
)

// Session is a single login attempt's scriptable browser handle.
type Session interface {
	// Navigate loads url and waits for the page to settle.
	Navigate(ctx context.Context, url string) error

	// WaitForSelectorByID blocks until an element with the given DOM id
	// appears, or ElementTimeout elapses.
	WaitForSelectorByID(ctx context.Context, id string) error

	// Type enters text into the element with the given DOM id.
	Type(ctx context.Context, id, text string) error

	// Click clicks the element with the given DOM id.
	Click(ctx context.Context, id string) error

	// URL returns the page's current URL.
	URL(ctx context.Context) (string, error)

	// WaitForURLPrefix blocks until the page's URL starts with prefix,
	// or FinalRedirectTimeout elapses; used to detect the OAuth2
	// redirect_uri landing.
	WaitForURLPrefix(ctx context.Context, prefix string) (string, error)

	// Cleanup releases any resources (tabs, temp profiles) held by the
	// session. Always called, even on error paths.
	Cleanup(ctx context.Context)
}

// Provider opens a fresh Session for one login attempt.
type Provider interface {
	NewSession(ctx context.Context) (Session, error)
}
