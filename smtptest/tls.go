package smtptest

import (
	"os"
	"testing"
	"time"

	"github.com/flashmob/go-guerrilla/tests/testcert"
)

// TLSHost is the only host the generated certificate is valid for.
const TLSHost = "127.0.0.1"

// GenerateTLSFiles writes a TLS key and certificate to a temporary test
// directory that is removed after the test suite runs. It returns the file
// paths of the key and certificate. The certificate is a root cert.
func GenerateTLSFiles(t *testing.T) (keyPath string, certPath string, err error) {
	d := t.TempDir() + string(os.PathSeparator)
	err = testcert.GenerateCert(
		TLSHost,
		"",                         // defaults to now
		time.Duration(1)*time.Hour, // the test suite won't run for this long
		true,                       // is a CA cert
		2048,                       // usually seen in online tutorials
		"",                         // using the default ecdsa curve,
		d,
	)

	if err != nil {
		return
	}

	// These path names are hardcoded into testcert.GenerateCert
	keyPath = d + TLSHost + ".key.pem"
	certPath = d + TLSHost + ".cert.pem"

	return
}

// StartTLSServer generates TLS files, starts an InProcessServer in the
// background, and closes it when the test ends.
func StartTLSServer(t *testing.T, opts Options) *InProcessServer {
	t.Helper()
	k, c, err := GenerateTLSFiles(t)
	if err != nil {
		t.Fatalf("can't generate TLS files for the test server: %v", err)
	}

	srv, err := NewInProcessServer(k, c, opts)
	if err != nil {
		t.Fatal(err)
	}

	go func(srv *InProcessServer) {
		srv.Start()
	}(srv)
	t.Cleanup(srv.Close)

	return srv
}
