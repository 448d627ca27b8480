package mailbox

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePOP3Server is a single-connection POP3S server that records every
// command line the client sends and answers from a scripted response
// map, so the tests can assert the exact login exchange on the wire.
type fakePOP3Server struct {
	listener net.Listener
	commands chan string
	// respond maps a command verb (first word) to the reply line. A
	// missing verb gets "-ERR unsupported".
	respond map[string]string
}

func newFakePOP3Server(t *testing.T, respond map[string]string) *fakePOP3Server {
	t.Helper()

	cert := selfSignedCert(t)
	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)

	srv := &fakePOP3Server{listener: listener, commands: make(chan string, 16), respond: respond}
	go srv.serve()
	t.Cleanup(func() { listener.Close() })
	return srv
}

func (s *fakePOP3Server) serve() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)

	w.WriteString("+OK fake POP3 server ready\r\n")
	w.Flush()

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		s.commands <- line

		verb := line
		if i := strings.IndexByte(line, ' '); i >= 0 {
			verb = line[:i]
		}
		reply, ok := s.respond[verb]
		if !ok {
			reply = "-ERR unsupported"
		}
		w.WriteString(reply + "\r\n")
		w.Flush()
		if verb == "QUIT" {
			return
		}
	}
}

func (s *fakePOP3Server) addr(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func (s *fakePOP3Server) nextCommand(t *testing.T) string {
	t.Helper()
	select {
	case cmd := <-s.commands:
		return cmd
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a client command")
		return ""
	}
}

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func testProvider(srv *fakePOP3Server, t *testing.T, build func(host string, port int) *BasicProvider) *BasicProvider {
	t.Helper()
	host, port := srv.addr(t)
	p := build(host, port)
	p.tlsConfig = &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}
	return p
}

func TestMessageCount_UserPassLoginSendsPlainCredentials(t *testing.T) {
	srv := newFakePOP3Server(t, map[string]string{
		"USER": "+OK",
		"PASS": "+OK logged in",
		"STAT": "+OK 3 1024",
	})
	p := testProvider(srv, t, func(host string, port int) *BasicProvider {
		return NewBasicProvider(host, port, "user@example.com", "hunter2")
	})

	count, err := p.MessageCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.Equal(t, "USER user@example.com", srv.nextCommand(t))
	assert.Equal(t, "PASS hunter2", srv.nextCommand(t))
	assert.Equal(t, "STAT", srv.nextCommand(t))
}

func TestMessageCount_XOAUTH2LoginSendsSASLBlobNotPASS(t *testing.T) {
	srv := newFakePOP3Server(t, map[string]string{
		"AUTH": "+OK logged in",
		"STAT": "+OK 1 512",
	})
	p := testProvider(srv, t, func(host string, port int) *BasicProvider {
		return NewXOAUTH2Provider(host, port, "user@gmail.com", "ya29.token")
	})

	count, err := p.MessageCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	wantBlob := base64.StdEncoding.EncodeToString(
		[]byte("user=user@gmail.com\x01auth=Bearer ya29.token\x01\x01"))
	assert.Equal(t, "AUTH XOAUTH2 "+wantBlob, srv.nextCommand(t))
	assert.Equal(t, "STAT", srv.nextCommand(t))
}

func TestMessageCount_XOAUTH2RejectionSurfacesServerError(t *testing.T) {
	errBlob := base64.StdEncoding.EncodeToString([]byte(`{"status":"400"}`))
	srv := newFakePOP3Server(t, map[string]string{
		"AUTH": "+ " + errBlob,
		"":     "-ERR [AUTH] Invalid credentials",
	})
	p := testProvider(srv, t, func(host string, port int) *BasicProvider {
		return NewXOAUTH2Provider(host, port, "user@gmail.com", "expired-token")
	})

	_, err := p.MessageCount(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XOAUTH2 login failed")
	assert.Contains(t, err.Error(), "Invalid credentials")
}

func TestExtractSixDigitCode(t *testing.T) {
	code, err := ExtractSixDigitCode("Your verification code is 482916, valid for 10 minutes.")
	require.NoError(t, err)
	assert.Equal(t, "482916", code)

	_, err = ExtractSixDigitCode("no code in here, not even 12345 or 1234567")
	assert.ErrorIs(t, err, ErrNoCode)
}
