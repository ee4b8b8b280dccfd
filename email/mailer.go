package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/ptgott/one-mailer/userconfig"
	"github.com/rs/zerolog/log"
)

// Mailer sends plain-text email on behalf of a single sender. It holds no
// connection between sends, so it's safe for concurrent use: every call to
// Send dials, authenticates, and hangs up on its own.
type Mailer struct {
	creds     userconfig.Credentials
	dialer    Dialer
	tlsConfig *tls.Config
	now       func() time.Time
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithDialer replaces the implicit TLS transport.
func WithDialer(d Dialer) Option {
	return func(m *Mailer) {
		m.dialer = d
	}
}

// WithTLSConfig overrides the TLS settings derived from the credentials.
func WithTLSConfig(c *tls.Config) Option {
	return func(m *Mailer) {
		m.tlsConfig = c
	}
}

// WithClock sets the function used for the Date header.
func WithClock(now func() time.Time) Option {
	return func(m *Mailer) {
		m.now = now
	}
}

// NewMailer returns a Mailer for creds. Credentials aren't validated until
// Send, which reports incomplete ones as ConfigMissing.
func NewMailer(creds userconfig.Credentials, opts ...Option) *Mailer {
	m := &Mailer{
		creds:  creds,
		dialer: TLSDialer{},
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Send delivers one message to the recipient to and blocks until the server
// accepts or rejects it. It never returns an error or panics: every failure
// is reported through the Result. There are no retries.
//
// The connection is closed before Send returns, whatever the outcome.
func (m *Mailer) Send(ctx context.Context, to string, subject string, body string) Result {
	creds, err := m.creds.CheckAndSetDefaults()
	if err != nil {
		return fail(to, ConfigMissing, err)
	}

	if to == "" {
		return fail(to, EnvelopeFailed, errors.New("the recipient address is empty"))
	}

	raw, err := BuildMessage(Message{
		From:    creds.SenderAddress,
		To:      to,
		Subject: subject,
		Body:    body,
	}, m.now())
	if err != nil {
		return fail(to, EnvelopeFailed, err)
	}

	tlsc := m.tlsConfig
	if tlsc == nil {
		tlsc, err = creds.TLSConfig()
		if err != nil {
			return fail(to, ConnectionFailed, err)
		}
	}

	if creds.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, creds.DialTimeout)
		defer cancel()
	}

	log.Debug().
		Str("server", creds.Address()).
		Str("recipient", to).
		Msg("dialing the SMTP server")

	conn, err := m.dialer.Dial(ctx, creds.Address(), tlsc)
	if err != nil {
		return fail(to, ConnectionFailed, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing the SMTP connection")
		}
	}()

	if err := conn.Hello(creds.HeloName); err != nil {
		return fail(to, ConnectionFailed, err)
	}

	auth := authClient(conn, creds.SenderAddress, creds.SenderSecret)
	if err := conn.Auth(auth); err != nil {
		return fail(to, AuthFailed, err)
	}
	log.Debug().Str("sender", creds.SenderAddress).Msg("authenticated to the SMTP server")

	if err := submit(conn, envelopeAddress(creds.SenderAddress), envelopeAddress(to), raw); err != nil {
		return fail(to, SubmissionRejected, err)
	}
	log.Debug().Str("recipient", to).Msg("the SMTP server accepted the message")

	// The message is already accepted at this point, so a failed QUIT
	// doesn't change the outcome.
	if err := conn.Quit(); err != nil {
		log.Debug().Err(err).Msg("error ending the SMTP session")
	}

	return Result{Recipient: to}
}

// authClient picks the SASL mechanism for the server on conn. PLAIN is used
// unless the server advertises LOGIN without PLAIN. A server that advertises
// neither still gets PLAIN, and its refusal is reported as AuthFailed.
func authClient(conn Conn, username string, password string) sasl.Client {
	ok, params := conn.Extension("AUTH")
	if ok {
		mechs := strings.Fields(strings.ToUpper(params))
		if !slices.Contains(mechs, sasl.Plain) && slices.Contains(mechs, sasl.Login) {
			log.Debug().Str("mechanisms", params).Msg("the SMTP server doesn't offer PLAIN, using LOGIN")
			return sasl.NewLoginClient(username, password)
		}
	}
	return sasl.NewPlainClient("", username, password)
}

func submit(conn Conn, from string, to string, raw []byte) error {
	if err := conn.Mail(from); err != nil {
		return fmt.Errorf("sender refused: %w", err)
	}

	if err := conn.Rcpt(to); err != nil {
		return fmt.Errorf("recipient refused: %w", err)
	}

	w, err := conn.Data()
	if err != nil {
		return fmt.Errorf("can't start the message data: %w", err)
	}

	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("can't write the message data: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("message refused: %w", err)
	}

	return nil
}

func fail(to string, k FailureKind, err error) Result {
	log.Warn().
		Str("recipient", to).
		Str("kind", k.String()).
		Err(err).
		Msg("could not send the email")
	return Result{
		Recipient: to,
		Err: &DeliveryError{
			Kind:  k,
			Cause: err,
		},
	}
}
