// Package twofa implements the interactive 2FA sub-flow the vendor's
// login page sometimes interposes between password entry and the
// OAuth2 redirect: a 6-digit code mailed to the account's inbox. It
// depends only on the browser.Session and mailbox.Client interfaces,
// never a concrete provider, so AuthEngine can swap either
// collaborator without touching this package.
package twofa

import (
	"context"
	"fmt"
	"time"

	"github.com/rehau-bridge/nea-bridge/internal/auth/browser"
	"github.com/rehau-bridge/nea-bridge/internal/mailbox"
)

// FailureKind classifies why the sub-flow could not produce a code.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureNoMailbox
	FailureMailboxTimeout
	FailureNoCode
	FailureCodeRejected
)

func (k FailureKind) String() string {
	switch k {
	case FailureNoMailbox:
		return "NoMailbox"
	case FailureMailboxTimeout:
		return "MailboxTimeout"
	case FailureNoCode:
		return "NoCode"
	case FailureCodeRejected:
		return "CodeRejected"
	default:
		return "None"
	}
}

// Error wraps a FailureKind with the underlying cause, if any.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("twofa: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("twofa: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// codeFieldID is the DOM id of the 2FA code input on the vendor's
// login page.
const codeFieldID = "two-factor-code"
const submitButtonID = "two-factor-submit"

// Config carries the pieces the sub-flow needs that are not part of
// either collaborator interface.
type Config struct {
	SenderAddress string        // expected From address of the verification email
	Deadline      time.Duration // overall deadline, default 600s
}

// Run drives the interactive 2FA sub-flow: it assumes sess is already
// on the page showing the 6-digit code field, and returns once the
// page has redirected to redirectPrefix, returning the landed URL for
// the caller to extract the authorization code from.
func Run(ctx context.Context, sess browser.Session, mbox mailbox.Client, cfg Config, redirectPrefix string) (string, error) {
	if mbox == nil {
		return "", &Error{Kind: FailureNoMailbox}
	}

	baseline, err := mbox.MessageCount(ctx)
	if err != nil {
		return "", &Error{Kind: FailureNoMailbox, Err: err}
	}

	if err := sess.WaitForSelectorByID(ctx, codeFieldID); err != nil {
		return "", &Error{Kind: FailureCodeRejected, Err: err}
	}

	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = 600 * time.Second
	}
	msg, err := mbox.WaitForNewMessageFrom(ctx, cfg.SenderAddress, baseline, time.Now().Add(deadline))
	if err != nil {
		return "", &Error{Kind: FailureMailboxTimeout, Err: err}
	}

	code, err := mailbox.ExtractSixDigitCode(msg.Body)
	if err != nil {
		return "", &Error{Kind: FailureNoCode, Err: err}
	}

	if err := sess.Type(ctx, codeFieldID, code); err != nil {
		return "", &Error{Kind: FailureCodeRejected, Err: err}
	}
	if err := sess.Click(ctx, submitButtonID); err != nil {
		return "", &Error{Kind: FailureCodeRejected, Err: err}
	}

	landed, err := sess.WaitForURLPrefix(ctx, redirectPrefix)
	if err != nil {
		return "", &Error{Kind: FailureCodeRejected, Err: err}
	}

	// Best-effort cleanup; a delete failure must never fail the login.
	_ = mbox.Delete(ctx, msg.Number)

	return landed, nil
}
