// Package mailbox provides read-only access to the inbox AuthEngine
// polls during the interactive 2FA sub-flow. Implementations MUST be:
//   - Safe to poll repeatedly (MessageCount/WaitForNewMessageFrom may
//     be called every 5s for up to POP3_TIMEOUT).
//   - Best-effort on Delete: a failure to delete the verification email
//     must never fail the login.
//
// AuthEngine treats the mailbox as an opaque collaborator; it never
// branches on which Client implementation is in play.
package mailbox

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// Message is the minimal shape AuthEngine needs from an email.
type Message struct {
	Number int // provider-specific message sequence number, for Delete
	From   string
	Body   string
}

// Client is the mailbox collaborator AuthEngine polls for the 2FA
// verification code. Basic/Gmail/Outlook providers all implement it.
type Client interface {
	// MessageCount returns the number of messages currently in the inbox.
	MessageCount(ctx context.Context) (int, error)

	// WaitForNewMessageFrom polls until a message from senderAddress
	// arrives whose sequence number exceeds the baseline the caller
	// captured before starting the wait, or until deadline elapses.
	// Returns (nil, ErrTimeout) on deadline, never a zero Message.
	WaitForNewMessageFrom(ctx context.Context, senderAddress string, baseline int, deadline time.Time) (*Message, error)

	// Delete removes a message by its sequence number. Best-effort:
	// callers must not treat a Delete failure as fatal.
	Delete(ctx context.Context, messageNumber int) error
}

// ErrTimeout is returned by WaitForNewMessageFrom when no matching
// message arrives before the deadline.
var ErrTimeout = errors.New("mailbox: timed out waiting for verification email")

// sixDigitCode matches the first bare 6-digit run in a message body.
var sixDigitCode = regexp.MustCompile(`\b\d{6}\b`)

// ErrNoCode is returned when a message body contains no 6-digit run.
var ErrNoCode = errors.New("mailbox: no 6-digit code found in message body")

// ExtractSixDigitCode parses the first \b\d{6}\b run from a message
// body.
func ExtractSixDigitCode(body string) (string, error) {
	match := sixDigitCode.FindString(body)
	if match == "" {
		return "", ErrNoCode
	}
	return match, nil
}
