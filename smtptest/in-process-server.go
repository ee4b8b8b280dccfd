package smtptest

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// doubtful we'll get an email this big, but we need a limit
const maxEmailSize int64 = 100 * units.MiB

// Options controls how an InProcessServer treats its clients. The zero value
// accepts any non-empty username and password and every message.
type Options struct {
	// If Username is set, AUTH only succeeds with this username and
	// Password.
	Username string
	Password string
	// SASL mechanisms advertised and accepted. Defaults to PLAIN only.
	// PLAIN and LOGIN are supported.
	AuthMechanisms []string
	// RCPT TO any of these addresses gets a permanent failure.
	RejectRecipients []string
	// Refuse every message at the end of DATA.
	RejectData bool
}

// StoredMessage is an email received by the server, along with its SMTP
// envelope.
type StoredMessage struct {
	Created time.Time
	From    string
	To      []string
	Body    string
}

// Backend implements smtp.Backend. It's a thin authentication wrapper
// for an InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
	opts Options
}

// NewSession implements smtp.Backend. Each connection gets its own session
// so authentication state isn't shared between clients.
func (be *Backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	be.connectionOpened()
	return &session{
		store: be.InMemoryEmailStore,
		opts:  be.opts,
	}, nil
}

// session implements smtp.Session and smtp.AuthSession. It enforces AUTH
// before MAIL FROM.
type session struct {
	store         *InMemoryEmailStore
	opts          Options
	authenticated bool
	from          string
	to            []string
}

// AuthMechanisms implements smtp.AuthSession.
func (s *session) AuthMechanisms() []string {
	if len(s.opts.AuthMechanisms) > 0 {
		return s.opts.AuthMechanisms
	}
	return []string{sasl.Plain}
}

// Auth implements smtp.AuthSession. Mechanisms that aren't advertised are
// refused.
func (s *session) Auth(mech string) (sasl.Server, error) {
	if !slices.Contains(s.AuthMechanisms(), mech) {
		return nil, smtp.ErrAuthUnsupported
	}

	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(identity, username, password string) error {
			return s.login(username, password)
		}), nil
	case sasl.Login:
		return sasl.NewLoginServer(s.login), nil
	default:
		return nil, smtp.ErrAuthUnsupported
	}
}

func (s *session) login(username string, password string) error {
	if username == "" || password == "" {
		return errors.New("no username or password provided")
	}
	if s.opts.Username != "" &&
		(username != s.opts.Username || password != s.opts.Password) {
		return smtp.ErrAuthFailed
	}
	s.authenticated = true
	return nil
}

// Reset implements smtp.Session.
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout implements smtp.Session. Called once the connection is closed.
func (s *session) Logout() error {
	s.store.connectionClosed()
	return nil
}

// Mail implements smtp.Session.
func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

// Rcpt implements smtp.Session.
func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	for _, r := range s.opts.RejectRecipients {
		if strings.EqualFold(r, to) {
			return &smtp.SMTPError{
				Code:         550,
				EnhancedCode: smtp.EnhancedCode{5, 1, 1},
				Message:      "mailbox unavailable",
			}
		}
	}
	s.to = append(s.to, to)
	return nil
}

// Data implements smtp.Session. Stores the email data in memory for retrieval
// at the end of the test.
func (s *session) Data(r io.Reader) error {
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}

	if s.opts.RejectData {
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "message content rejected",
		}
	}

	to := make([]string, len(s.to))
	copy(to, s.to)
	s.store.saveEmail(s.from, to, string(buf))
	return nil
}

// InMemoryEmailStore retains email bodies in memory for comparison against
// a test's expected output. It also counts connections so tests can check
// that clients hang up.
// Designed to be goroutine safe since we don't know how many goroutines will
// be hitting the server at once.
type InMemoryEmailStore struct {
	mu       *sync.Mutex
	messages []StoredMessage
	opened   int
	closed   int
}

// saveEmail stores the email body in memory along with a timestamp created
// just prior to saving
func (es *InMemoryEmailStore) saveEmail(from string, to []string, bod string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.messages = append(es.messages, StoredMessage{
		Created: time.Now(),
		From:    from,
		To:      to,
		Body:    bod,
	})
}

func (es *InMemoryEmailStore) connectionOpened() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.opened++
}

func (es *InMemoryEmailStore) connectionClosed() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.closed++
}

// Connections returns the number of SMTP sessions opened and closed so far.
func (es *InMemoryEmailStore) Connections() (opened int, closed int) {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.opened, es.closed
}

// Messages returns every message received at or after epoch nanoseconds t.
func (es *InMemoryEmailStore) Messages(t int64) []StoredMessage {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]StoredMessage, 0, len(es.messages))
	for _, m := range es.messages {
		if m.Created.UnixNano() >= t {
			r = append(r, m)
		}
	}
	return r
}

// InProcessServer is an SMTP server that runs in the same process as the
// test suite, letting us inspect sent emails. Clients must use implicit TLS.
// You must initialize this via NewInProcessServer
type InProcessServer struct {
	*smtp.Server
	*InMemoryEmailStore
	listener net.Listener
	certPath string
}

// NewInProcessServer creates an InProcessServer listening on a random
// loopback port, including configuring its SMTP server to store incoming
// messages in memory. Must provide the paths to the key and cert used for
// TLS. The cert must be a root cert valid for 127.0.0.1.
func NewInProcessServer(keyPath string, certPath string, opts Options) (*InProcessServer, error) {
	is := &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []StoredMessage{},
	}

	srv := smtp.NewServer(&Backend{
		InMemoryEmailStore: is,
		opts:               opts,
	})

	srv.Domain = "localhost"
	srv.AllowInsecureAuth = false // need AUTH over TLS here
	srv.MaxMessageBytes = maxEmailSize
	srv.ReadTimeout = time.Duration(10) * time.Second
	srv.WriteTimeout = time.Duration(10) * time.Second

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("can't load the test server's key pair: %w", err)
	}

	srv.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	// Listening here rather than in Start so the address is known before
	// the server begins accepting connections.
	l, err := tls.Listen("tcp", "127.0.0.1:0", srv.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("can't listen for SMTP connections: %w", err)
	}

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
		listener:           l,
		certPath:           certPath,
	}, nil
}

// Start starts the test server. Blocking.
func (is *InProcessServer) Start() error {
	return is.Server.Serve(is.listener)
}

// Close shuts down the test server daemon. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
	// In case Start was never called
	is.listener.Close()
}

// Address returns the host:port of the test SMTP server.
func (is *InProcessServer) Address() string {
	return is.listener.Addr().String()
}

// HostPort returns the host and port of the test SMTP server separately, in
// the form most client configs expect.
func (is *InProcessServer) HostPort() (string, int) {
	h, p, err := net.SplitHostPort(is.Address())
	if err != nil {
		// The listener always reports host:port
		panic(err)
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		panic(err)
	}
	return h, n
}

// CertPath returns the path of the server's certificate, which clients can
// trust as a root.
func (is *InProcessServer) CertPath() string {
	return is.certPath
}

// ClientTLSConfig returns TLS settings that trust the server's certificate.
func (is *InProcessServer) ClientTLSConfig() (*tls.Config, error) {
	pem, err := os.ReadFile(is.certPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("no certificates in the test server's cert file")
	}
	host, _ := is.HostPort()
	return &tls.Config{
		RootCAs:    pool,
		ServerName: host,
	}, nil
}
