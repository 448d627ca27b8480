package twofa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rehau-bridge/nea-bridge/internal/mailbox"
)

// fakeSession records the automation steps Run drives, landing on
// redirectURL once the code has been submitted.
type fakeSession struct {
	typed       map[string]string
	clicked     []string
	redirectURL string
	waitErr     error
}

func newFakeSession(redirectURL string) *fakeSession {
	return &fakeSession{typed: map[string]string{}, redirectURL: redirectURL}
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error { return nil }

func (s *fakeSession) WaitForSelectorByID(ctx context.Context, id string) error { return nil }

func (s *fakeSession) Type(ctx context.Context, id, text string) error {
	s.typed[id] = text
	return nil
}

func (s *fakeSession) Click(ctx context.Context, id string) error {
	s.clicked = append(s.clicked, id)
	return nil
}

func (s *fakeSession) URL(ctx context.Context) (string, error) { return s.redirectURL, nil }

func (s *fakeSession) WaitForURLPrefix(ctx context.Context, prefix string) (string, error) {
	if s.waitErr != nil {
		return "", s.waitErr
	}
	return s.redirectURL, nil
}

func (s *fakeSession) Cleanup(ctx context.Context) {}

type fakeMailbox struct {
	count   int
	message *mailbox.Message
	waitErr error
	deleted []int
}

func (m *fakeMailbox) MessageCount(ctx context.Context) (int, error) { return m.count, nil }

func (m *fakeMailbox) WaitForNewMessageFrom(ctx context.Context, sender string, baseline int, deadline time.Time) (*mailbox.Message, error) {
	if m.waitErr != nil {
		return nil, m.waitErr
	}
	return m.message, nil
}

func (m *fakeMailbox) Delete(ctx context.Context, messageNumber int) error {
	m.deleted = append(m.deleted, messageNumber)
	return errors.New("mailbox gone") // Run must treat this as best-effort
}

func TestRun_TypesMailedCodeAndReturnsLandedURL(t *testing.T) {
	sess := newFakeSession("com.rehau.neasmart2://callback?code=abc")
	mbox := &fakeMailbox{count: 3, message: &mailbox.Message{Number: 4, From: "noreply@rehau.com", Body: "Your code is 123456."}}

	landed, err := Run(context.Background(), sess, mbox, Config{SenderAddress: "noreply@rehau.com"}, "com.rehau.neasmart2://callback")
	require.NoError(t, err)

	assert.Equal(t, "com.rehau.neasmart2://callback?code=abc", landed)
	assert.Equal(t, "123456", sess.typed["two-factor-code"])
	assert.Contains(t, sess.clicked, "two-factor-submit")
	assert.Equal(t, []int{4}, mbox.deleted, "verification message should be deleted even though delete fails")
}

func TestRun_NilMailboxIsNoMailboxFailure(t *testing.T) {
	sess := newFakeSession("")
	_, err := Run(context.Background(), sess, nil, Config{}, "com.rehau.neasmart2://callback")

	var tfErr *Error
	require.ErrorAs(t, err, &tfErr)
	assert.Equal(t, FailureNoMailbox, tfErr.Kind)
}

func TestRun_MailboxTimeoutSurfacesAsMailboxTimeout(t *testing.T) {
	sess := newFakeSession("")
	mbox := &fakeMailbox{waitErr: mailbox.ErrTimeout}

	_, err := Run(context.Background(), sess, mbox, Config{}, "com.rehau.neasmart2://callback")

	var tfErr *Error
	require.ErrorAs(t, err, &tfErr)
	assert.Equal(t, FailureMailboxTimeout, tfErr.Kind)
}

func TestRun_BodyWithoutSixDigitRunIsNoCodeFailure(t *testing.T) {
	sess := newFakeSession("")
	mbox := &fakeMailbox{message: &mailbox.Message{Number: 1, Body: "no digits here"}}

	_, err := Run(context.Background(), sess, mbox, Config{}, "com.rehau.neasmart2://callback")

	var tfErr *Error
	require.ErrorAs(t, err, &tfErr)
	assert.Equal(t, FailureNoCode, tfErr.Kind)
}

func TestRun_MissedRedirectIsCodeRejected(t *testing.T) {
	sess := newFakeSession("")
	sess.waitErr = errors.New("form re-prompted")
	mbox := &fakeMailbox{message: &mailbox.Message{Number: 1, Body: "code 654321"}}

	_, err := Run(context.Background(), sess, mbox, Config{}, "com.rehau.neasmart2://callback")

	var tfErr *Error
	require.ErrorAs(t, err, &tfErr)
	assert.Equal(t, FailureCodeRejected, tfErr.Kind)
}
