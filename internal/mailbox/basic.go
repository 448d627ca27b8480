package mailbox

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// BasicProvider is a minimal POP3S client: STAT for the message count,
// RETR/DELE for reading and cleaning up, and either plain USER/PASS or
// an AUTH XOAUTH2 SASL exchange for login. The protocol is a short
// line-oriented command exchange, so it is framed directly with
// net/textproto.
type BasicProvider struct {
	Host     string
	Port     int
	User     string
	Password string

	// bearerToken selects the AUTH XOAUTH2 login exchange instead of
	// USER/PASS when non-empty. Gmail and Outlook reject a bearer token
	// smuggled through PASS; they require the SASL command.
	bearerToken string

	dialTimeout time.Duration
	tlsConfig   *tls.Config // test seam; nil means verify against Host
}

// NewBasicProvider builds a POP3S provider from plain credentials.
func NewBasicProvider(host string, port int, user, password string) *BasicProvider {
	return &BasicProvider{Host: host, Port: port, User: user, Password: password, dialTimeout: 15 * time.Second}
}

// NewXOAUTH2Provider builds a POP3S provider that logs in with an AUTH
// XOAUTH2 SASL exchange carrying the given OAuth2 access token. The
// token is connection-scoped; callers mint a fresh provider per dial
// once the token source has refreshed.
func NewXOAUTH2Provider(host string, port int, user, accessToken string) *BasicProvider {
	return &BasicProvider{Host: host, Port: port, User: user, bearerToken: accessToken, dialTimeout: 15 * time.Second}
}

func (p *BasicProvider) dial(ctx context.Context) (*textproto.Conn, error) {
	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	dialer := &net.Dialer{Timeout: p.dialTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mailbox: dial %s: %w", addr, err)
	}
	tlsCfg := p.tlsConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: p.Host, MinVersion: tls.VersionTLS12}
	}
	tlsConn := tls.Client(rawConn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("mailbox: tls handshake: %w", err)
	}

	conn := textproto.NewConn(tlsConn)
	if _, err := conn.ReadLine(); err != nil { // greeting
		conn.Close()
		return nil, fmt.Errorf("mailbox: read greeting: %w", err)
	}
	if err := p.login(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (p *BasicProvider) login(conn *textproto.Conn) error {
	if p.bearerToken != "" {
		return p.loginXOAUTH2(conn)
	}
	return p.loginUserPass(conn)
}

func (p *BasicProvider) loginUserPass(conn *textproto.Conn) error {
	if err := conn.PrintfLine("USER %s", p.User); err != nil {
		return err
	}
	if _, err := conn.ReadLine(); err != nil {
		return fmt.Errorf("mailbox: USER rejected: %w", err)
	}
	if err := conn.PrintfLine("PASS %s", p.Password); err != nil {
		return err
	}
	line, err := conn.ReadLine()
	if err != nil {
		return fmt.Errorf("mailbox: PASS rejected: %w", err)
	}
	if !strings.HasPrefix(line, "+OK") {
		return fmt.Errorf("mailbox: login failed: %s", line)
	}
	return nil
}

// loginXOAUTH2 runs the SASL XOAUTH2 exchange: a single AUTH XOAUTH2
// command with the initial response inline,
// base64("user=" + user + "\x01auth=Bearer " + token + "\x01\x01").
// On rejection the server sends a "+ <base64 error>" continuation that
// must be acknowledged with an empty line before it issues the final
// -ERR.
func (p *BasicProvider) loginXOAUTH2(conn *textproto.Conn) error {
	blob := base64.StdEncoding.EncodeToString(
		[]byte("user=" + p.User + "\x01auth=Bearer " + p.bearerToken + "\x01\x01"))
	if err := conn.PrintfLine("AUTH XOAUTH2 %s", blob); err != nil {
		return err
	}
	line, err := conn.ReadLine()
	if err != nil {
		return fmt.Errorf("mailbox: AUTH XOAUTH2 rejected: %w", err)
	}
	if strings.HasPrefix(line, "+OK") {
		return nil
	}
	if strings.HasPrefix(line, "+ ") {
		detail := line[2:]
		if err := conn.PrintfLine(""); err == nil {
			if final, err := conn.ReadLine(); err == nil {
				line = final
			}
		}
		return fmt.Errorf("mailbox: XOAUTH2 login failed: %s (%s)", line, detail)
	}
	return fmt.Errorf("mailbox: XOAUTH2 login failed: %s", line)
}

// MessageCount issues STAT and returns the message count.
func (p *BasicProvider) MessageCount(ctx context.Context) (int, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := conn.PrintfLine("STAT"); err != nil {
		return 0, err
	}
	line, err := conn.ReadLine()
	if err != nil {
		return 0, err
	}
	parts := strings.Fields(line)
	if len(parts) < 2 || parts[0] != "+OK" {
		return 0, fmt.Errorf("mailbox: unexpected STAT response: %s", line)
	}
	count, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("mailbox: malformed STAT count: %w", err)
	}
	return count, nil
}

// WaitForNewMessageFrom polls every 5s for a message numbered above
// baseline whose From header matches senderAddress.
func (p *BasicProvider) WaitForNewMessageFrom(ctx context.Context, senderAddress string, baseline int, deadline time.Time) (*Message, error) {
	const pollInterval = 5 * time.Second
	for {
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		count, err := p.MessageCount(ctx)
		if err == nil && count > baseline {
			for n := baseline + 1; n <= count; n++ {
				msg, err := p.fetch(ctx, n)
				if err != nil {
					continue
				}
				if strings.Contains(strings.ToLower(msg.From), strings.ToLower(senderAddress)) {
					return msg, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (p *BasicProvider) fetch(ctx context.Context, number int) (*Message, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.PrintfLine("RETR %d", number); err != nil {
		return nil, err
	}
	line, err := conn.ReadLine()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "+OK") {
		return nil, fmt.Errorf("mailbox: RETR %d failed: %s", number, line)
	}

	raw, err := conn.ReadDotBytes()
	if err != nil {
		return nil, err
	}

	from := parseFromHeader(raw)
	return &Message{Number: number, From: from, Body: string(raw)}, nil
}

// Delete removes a message by sequence number. Callers treat failures
// as best-effort.
func (p *BasicProvider) Delete(ctx context.Context, messageNumber int) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.PrintfLine("DELE %d", messageNumber); err != nil {
		return err
	}
	if _, err := conn.ReadLine(); err != nil {
		return err
	}
	return conn.PrintfLine("QUIT")
}

func parseFromHeader(raw []byte) string {
	reader := bufio.NewReader(strings.NewReader(string(raw)))
	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(strings.ToLower(trimmed), "from:") {
			return strings.TrimSpace(trimmed[len("from:"):])
		}
		if trimmed == "" || err != nil {
			return ""
		}
	}
}
