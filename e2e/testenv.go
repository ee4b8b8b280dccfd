package e2e

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ptgott/one-mailer/cli"
	"github.com/ptgott/one-mailer/smtptest"
)

const (
	tempDirPathName = "tempTestDir"
	testUser        = "me@example.com"
	testPassword    = "mypassword"
)

// testEnvironment manages all dependencies required to simulate a "real"
// environment and run the e2e tests. Callers should create this via
// startTestEnvironment.
type testEnvironment struct {
	SMTPServer  smtptest.Server
	tempDirPath string // must be populated programmatically
}

// startTestEnvironment spins up an SMTP server that accepts testUser and
// testPassword. Callers should defer a call to tearDown.
//
// Note that if startTestEnvironment fails, it will return an error along with
// whatever shreds of a test environment we've set up so far so you can tear
// it down (i.e., it won't just be the zero value)
func startTestEnvironment(t *testing.T) (*testEnvironment, error) {
	te := &testEnvironment{}

	p, err := os.MkdirTemp("", tempDirPathName)
	if err != nil {
		// Shouldn't happen
		return te, fmt.Errorf("could not create the test directory: %w", err)
	}

	te.tempDirPath = p

	key, cert, err := smtptest.GenerateTLSFiles(t)
	if err != nil {
		return te, err
	}
	ts, err := smtptest.NewInProcessServer(key, cert, smtptest.Options{
		Username: testUser,
		Password: testPassword,
	})
	if err != nil {
		return te, err
	}

	te.SMTPServer = ts

	go ts.Start()

	return te, nil
}

// path returns the path of name inside the environment's temp directory.
func (te *testEnvironment) path(name string) string {
	return filepath.Join(te.tempDirPath, name)
}

// configOptions returns a complete, valid config for the environment's
// SMTP server.
func (te *testEnvironment) configOptions() appConfigOptions {
	h, p := te.SMTPServer.HostPort()
	return appConfigOptions{
		SenderAddress: testUser,
		SenderSecret:  testPassword,
		SMTPHost:      h,
		SMTPPort:      p,
		CACert:        te.SMTPServer.CertPath(),
	}
}

// run executes the one-mailer command tree with args, looking up process
// environment variables in env. It returns the console output.
func (te *testEnvironment) run(env map[string]string, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := cli.NewRootCommand(cli.Options{
		Stdout: &out,
		LookupEnv: func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		},
	})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// tearDown returns the testEnvironment to its state prior to start. Designed
// to call with defer
func (te *testEnvironment) tearDown() {
	if te.SMTPServer != nil {
		te.SMTPServer.Close()
	}

	// This error will be nil if the path doesn't exist. See:
	// https://golang.org/pkg/os/#RemoveAll
	err := os.RemoveAll(te.tempDirPath)

	// We're not expecting this to return an error since it's designed to call with
	// defer. Instead we panic, and hopefully we can prevent any panic-causing
	// error from happening again.
	if err != nil {
		panic(fmt.Sprintf("can't delete the test directory: %v", err))
	}
}
