package smtptest

import "crypto/tls"

// Server is an SMTP server that tests send mail to. It should be able to
// return the messages sent to it during the test suite. The server is meant
// to start during a test (or test suite) and stop right after.
type Server interface {
	// Start runs the server and blocks until it stops. Retry behavior is
	// left to the caller.
	Start() error

	// Close terminates the server and any required resources. While this is
	// designed not to return an error so it's easier to use with defer,
	// implementations should log failures to close.
	Close()

	// Messages returns every message received at or after time t in Unix
	// epoch nanoseconds, with its envelope.
	Messages(t int64) []StoredMessage

	// Connections returns how many SMTP sessions clients have opened and
	// how many of those have since closed.
	Connections() (opened int, closed int)

	// HostPort returns the host and port clients should dial.
	HostPort() (string, int)

	// CertPath returns the path of a PEM certificate clients can trust as
	// a root for the server.
	CertPath() string

	// ClientTLSConfig returns TLS settings that trust the server.
	ClientTLSConfig() (*tls.Config, error)
}

var _ Server = &InProcessServer{}
