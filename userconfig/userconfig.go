package userconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultSMTPHost and DefaultSMTPPort match the values the mailer has
	// always used when the environment doesn't name a server.
	DefaultSMTPHost = "smtp.gmail.com"
	DefaultSMTPPort = 587

	defaultDialTimeout = time.Duration(30) * time.Second
	defaultHeloName    = "localhost"
)

var (
	ErrMissingSender = errors.New("no sender address was provided")
	ErrMissingSecret = errors.New("no sender password or app token was provided")
	ErrInvalidPort   = errors.New("the SMTP port must be between 1 and 65535")
)

// Credentials represents everything the mailer needs to reach and
// authenticate to an SMTP server. Values are copied into the mailer at
// construction, so changing a Credentials afterward has no effect on a
// running mailer.
type Credentials struct {
	SenderAddress string
	SenderSecret  string
	SMTPHost      string
	SMTPPort      int
	// Bounds both dialing and the rest of the SMTP exchange. Zero means no
	// limit beyond what the network stack imposes.
	DialTimeout        time.Duration
	InsecureSkipVerify bool
	// Path to a PEM bundle trusted in addition to the system roots
	CACertPath string
	HeloName   string
}

// CheckAndSetDefaults validates c and either returns a copy of c with default
// settings applied or returns an error due to an incomplete configuration.
// The port isn't defaulted here: Load starts from DefaultSMTPPort, so a zero
// port means someone set it to zero.
func (c Credentials) CheckAndSetDefaults() (Credentials, error) {
	if c.SenderAddress == "" {
		return Credentials{}, ErrMissingSender
	}

	if c.SenderSecret == "" {
		return Credentials{}, ErrMissingSecret
	}

	if c.SMTPHost == "" {
		c.SMTPHost = DefaultSMTPHost
	}

	if err := checkPort(c.SMTPPort); err != nil {
		return Credentials{}, err
	}

	if c.HeloName == "" {
		c.HeloName = defaultHeloName
	}

	return c, nil
}

// checkPort rejects ports outside 1-65535. A zero port is an error too, since
// the port default is applied when loading, not here.
func checkPort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("%w: got %v", ErrInvalidPort, p)
	}
	return nil
}

// Address returns the host:port of the SMTP server.
func (c Credentials) Address() string {
	return net.JoinHostPort(c.SMTPHost, strconv.Itoa(c.SMTPPort))
}

// TLSConfig builds the client-side TLS settings for the implicit TLS
// connection. The server name is always the configured host.
func (c Credentials) TLSConfig() (*tls.Config, error) {
	tlsc := &tls.Config{
		ServerName:         c.SMTPHost,
		InsecureSkipVerify: c.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if c.CACertPath == "" {
		return tlsc, nil
	}

	pem, err := os.ReadFile(c.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("can't read the CA certificate bundle: %w", err)
	}

	// Fall back to an empty pool if the system pool isn't available, e.g.,
	// on platforms without one.
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}

	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %v", c.CACertPath)
	}
	tlsc.RootCAs = pool

	return tlsc, nil
}

// String implements fmt.Stringer. The secret is always redacted so a
// Credentials can be logged or printed safely.
func (c Credentials) String() string {
	secret := ""
	if c.SenderSecret != "" {
		secret = "[redacted]"
	}
	return fmt.Sprintf(
		"sender=%v secret=%v server=%v",
		c.SenderAddress,
		secret,
		c.Address(),
	)
}
