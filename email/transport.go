package email

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Conn is one SMTP session with a server. It covers only the commands the
// Mailer issues, so tests can stand in for a real server.
type Conn interface {
	Hello(localName string) error
	// Extension reports whether the server advertised the EHLO extension
	// name, along with its parameters.
	Extension(name string) (bool, string)
	Auth(a sasl.Client) error
	Mail(from string) error
	Rcpt(to string) error
	// Data starts the DATA command. Closing the returned writer finishes the
	// message and returns the server's verdict on it.
	Data() (io.WriteCloser, error)
	Quit() error
	// Close releases the connection. It must be safe to call after Quit.
	Close() error
}

// Dialer opens a Conn to addr. The connection must be encrypted from the
// first byte using tlsc.
type Dialer interface {
	Dial(ctx context.Context, addr string, tlsc *tls.Config) (Conn, error)
}

// TLSDialer implements Dialer with an implicit TLS connection (sometimes
// called SMTPS). It never negotiates STARTTLS.
type TLSDialer struct{}

// Dial connects to addr and completes the TLS handshake. A deadline on ctx
// applies to the whole session, not just the dial, and cancelling ctx
// interrupts any command in progress.
func (TLSDialer) Dial(ctx context.Context, addr string, tlsc *tls.Config) (Conn, error) {
	td := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    tlsc,
	}

	conn, err := td.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if dl, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(dl); err != nil {
			conn.Close()
			return nil, err
		}
	}

	// Unblock reads and writes as soon as the context is done
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})

	return &smtpConn{
		client: smtp.NewClient(conn),
		stop:   stop,
	}, nil
}

// smtpConn adapts *smtp.Client to Conn.
type smtpConn struct {
	client *smtp.Client
	stop   func() bool
	// The client closes the connection itself after a successful QUIT
	closed bool
}

func (s *smtpConn) Hello(localName string) error {
	return s.client.Hello(localName)
}

func (s *smtpConn) Extension(name string) (bool, string) {
	return s.client.Extension(name)
}

func (s *smtpConn) Auth(a sasl.Client) error {
	return s.client.Auth(a)
}

func (s *smtpConn) Mail(from string) error {
	return s.client.Mail(from, nil)
}

func (s *smtpConn) Rcpt(to string) error {
	return s.client.Rcpt(to, nil)
}

func (s *smtpConn) Data() (io.WriteCloser, error) {
	w, err := s.client.Data()
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *smtpConn) Quit() error {
	if err := s.client.Quit(); err != nil {
		return err
	}
	s.closed = true
	return nil
}

func (s *smtpConn) Close() error {
	s.stop()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
